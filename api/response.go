package api

import (
	"net/http"

	"offgridpay/common"
	"offgridpay/log"

	"github.com/gin-gonic/gin"
)

func successResponse(c *gin.Context, status int, message string, data ...interface{}) {
	response := gin.H{
		"message": message,
	}
	if len(data) > 0 {
		response["data"] = data[0]
	}
	c.JSON(status, response)
}

func errorResponse(c *gin.Context, status int, message string, err ...interface{}) {
	response := gin.H{
		"message": message,
	}
	if len(err) > 0 {
		response["error"] = err[0]
	}
	c.AbortWithStatusJSON(status, response)
}

// errorStatus returns the HTTP status of an error returned by the engine
func errorStatus(err error) int {
	switch common.Kind(err) {
	case common.KindValidation:
		return http.StatusBadRequest
	case common.KindProtocol:
		return http.StatusUnprocessableEntity
	case common.KindAuthorization:
		return http.StatusForbidden
	case common.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// batchErrorAPI identifies the transaction that made a batch fail
type batchErrorAPI struct {
	Index int         `json:"index"`
	TxID  common.TxID `json:"txId"`
	Error string      `json:"error"`
}

// engineError responds with the error returned by the engine.  The
// internal errors are logged and returned without details.
func engineError(c *gin.Context, message string, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		log.Errorw("API: internal error", "route", c.FullPath(), "err", err)
		errorResponse(c, status, message, "internal error")
		return
	}
	if be, ok := common.AsBatchError(err); ok {
		errorResponse(c, status, message, batchErrorAPI{
			Index: be.Index,
			TxID:  be.TxID,
			Error: common.Unwrap(be.Err).Error(),
		})
		return
	}
	errorResponse(c, status, message, common.Unwrap(err).Error())
}

// badRequest responds with a malformed request error
func badRequest(c *gin.Context, message string, err error) {
	errorResponse(c, http.StatusBadRequest, message, common.Unwrap(err).Error())
}
