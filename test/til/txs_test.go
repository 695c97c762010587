package til

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"testing"

	"offgridpay/common"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const timestamp = int64(1700000000)

func TestGenerateKeys(t *testing.T) {
	tc := NewContext(timestamp)
	usernames := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k"}
	tc.generateKeys(usernames)
	debug := false
	if debug {
		for i, username := range usernames {
			fmt.Println(i, username)
			fmt.Println("	eth_sk", hex.EncodeToString(crypto.FromECDSA(tc.Accounts[username].Sk)))
			fmt.Println("	eth_addr", tc.Accounts[username].Addr)
		}
	}
	// deterministic keys
	assert.Equal(t, NewUser(1, "a").Addr, tc.Accounts["a"].Addr)
	assert.Equal(t, crypto.PubkeyToAddress(tc.Accounts["k"].Sk.PublicKey), tc.Accounts["k"].Addr)
	assert.NotEqual(t, tc.Accounts["a"].Addr, tc.Accounts["b"].Addr)
}

func TestGenerateSteps(t *testing.T) {
	set := `
		Type: Ledger

		Init A: 10
		Init B: 5
		Promote A: 5

		Transfer A-B: 1
		Transfer A-B: 2
		Transfer(PYUSD) B-A: 0.5
		> batch // batch 1

		Transfer A-B: 1
	`
	tc := NewContext(timestamp)
	steps, err := tc.GenerateSteps(set)
	require.NoError(t, err)
	require.Equal(t, 5, len(steps))
	assert.Equal(t, TypeInit, steps[0].Instruction.Typ)
	assert.Nil(t, steps[0].Batch)

	batch := steps[3].Batch
	require.NotNil(t, batch)
	assert.Equal(t, "til-1", batch.BatchID)
	assert.Equal(t, tc.Accounts["A"].Addr, batch.Submitter)
	assert.Equal(t, common.CalcBatchFee(3), batch.FlowUsed)
	require.Equal(t, 3, len(batch.Txs))
	assert.Equal(t, common.Nonce(1), batch.Txs[0].Nonce)
	assert.Equal(t, common.Nonce(2), batch.Txs[1].Nonce)
	assert.Equal(t, common.Nonce(1), batch.Txs[2].Nonce)
	assert.Equal(t, common.TokenPYUSD, batch.Txs[2].TokenType)
	for _, tx := range batch.Txs {
		signer, err := tx.Signer()
		require.NoError(t, err)
		assert.Equal(t, tx.From, signer)
		assert.Equal(t, common.GenerateTxID(tx.From, tx.To, tx.Nonce, timestamp), tx.ID)
	}

	// the open batch at the end is closed
	last := steps[4].Batch
	require.NotNil(t, last)
	assert.Equal(t, "til-2", last.BatchID)
	assert.Equal(t, common.Nonce(3), last.Txs[0].Nonce)
}

func TestGenerateStepsErrors(t *testing.T) {
	set := `
		Type: Ledger
		Init A: 10
		> batch
	`
	_, err := NewContext(timestamp).GenerateSteps(set)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty batch")

	set = `
		Type: Ledger
		Transfer A-B: 1
		Deposit A: 10
	`
	_, err = NewContext(timestamp).GenerateSteps(set)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inside an open batch")

	set = `
		Type: Offline
		Transfer A-B: 1
	`
	_, err = NewContext(timestamp).GenerateSteps(set)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Expected set type: Ledger")
}

func TestGenerateOfflineTxs(t *testing.T) {
	set := `
		Type: Offline
		Transfer A-B: 1
		Transfer B-C: 2
		Transfer A-C: 3
	`
	tc := NewContext(timestamp)
	txs, err := tc.GenerateOfflineTxs(set)
	require.NoError(t, err)
	require.Equal(t, 3, len(txs))
	assert.Equal(t, common.Nonce(2), txs[2].Nonce)
	assert.Equal(t, tc.Accounts["C"].Addr, txs[2].To)

	tc.RestartNonces()
	txs2, err := tc.GenerateOfflineTxs(set)
	require.NoError(t, err)
	assert.Equal(t, txs, txs2)
}

type ledgerCall struct {
	op     string
	addr   ethCommon.Address
	amount *big.Int
}

type mockLedger struct {
	calls []ledgerCall
	fail  string
}

func (m *mockLedger) record(op string, addr ethCommon.Address, amount *big.Int) error {
	m.calls = append(m.calls, ledgerCall{op: op, addr: addr, amount: amount})
	if op == m.fail {
		return fmt.Errorf("%s failed", op)
	}
	return nil
}

func (m *mockLedger) InitializeAccount(ctx context.Context, addr ethCommon.Address,
	flowDeposit, pyusdDeposit *big.Int, fundingTx ethCommon.Hash) (*common.Account, error) {
	return nil, m.record("init", addr, flowDeposit)
}

func (m *mockLedger) AddDeposit(ctx context.Context, tt common.TokenType, addr ethCommon.Address,
	amount *big.Int, fundingTx ethCommon.Hash) (*common.Account, error) {
	return nil, m.record("deposit", addr, amount)
}

func (m *mockLedger) PromoteToBalance(ctx context.Context, tt common.TokenType, addr ethCommon.Address,
	amount *big.Int) (*common.Account, error) {
	return nil, m.record("promote", addr, amount)
}

func (m *mockLedger) WithdrawDeposit(ctx context.Context, tt common.TokenType, addr ethCommon.Address,
	amount *big.Int) (*common.Account, error) {
	return nil, m.record("withdraw", addr, amount)
}

func (m *mockLedger) SubmitBatch(ctx context.Context, batch *common.TxBatch) (*common.BatchData, error) {
	if err := m.record("batch", batch.Submitter, nil); err != nil {
		return nil, err
	}
	return &common.BatchData{Batch: common.Batch{BatchID: batch.BatchID}, Txs: batch.Txs}, nil
}

func TestApply(t *testing.T) {
	set := `
		Type: Ledger
		Init A: 10
		Deposit B: 1
		Promote A: 5
		Transfer A-B: 1
		> batch
		Withdraw B: 1
	`
	tc := NewContext(timestamp)
	steps, err := tc.GenerateSteps(set)
	require.NoError(t, err)

	ledger := &mockLedger{}
	settled, err := tc.Apply(context.Background(), ledger, steps)
	require.NoError(t, err)
	require.Equal(t, 1, len(settled))
	assert.Equal(t, "til-1", settled[0].Batch.BatchID)
	ops := []string{}
	for _, c := range ledger.calls {
		ops = append(ops, c.op)
	}
	assert.Equal(t, []string{"init", "deposit", "promote", "batch", "withdraw"}, ops)
	assert.Equal(t, tc.Accounts["B"].Addr, ledger.calls[1].addr)
	flow10, err := common.ParseAmount(common.TokenFLOW, "10")
	require.NoError(t, err)
	assert.Equal(t, flow10, ledger.calls[0].amount)

	ledger = &mockLedger{fail: "promote"}
	_, err = tc.Apply(context.Background(), ledger, steps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Line 4: PromoteA:5")
	assert.Equal(t, 3, len(ledger.calls))
}
