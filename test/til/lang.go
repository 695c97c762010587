package til

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math/big"
	"sort"

	"offgridpay/common"
	"offgridpay/log"
)

var eof = rune(0)
var errof = fmt.Errorf("eof in parseline")
var commentLine = fmt.Errorf("comment in parseline") //nolint:golint
var newEventLine = fmt.Errorf("newEventLine")        //nolint:golint
var setTypeLine = fmt.Errorf("setTypeLine")          //nolint:golint

// setType defines the type of the set
type setType string

// SetTypeLedger defines the type 'Ledger' of the set: account operations
// and transfers grouped in batches
var SetTypeLedger = setType("Ledger")

// SetTypeOffline defines the type 'Offline' of the set: only transfers,
// without batches
var SetTypeOffline = setType("Offline")

// InstrType is the type of an Instruction
type InstrType string

const (
	// TypeInit initializes an account with a deposit
	TypeInit InstrType = "Init"
	// TypeDeposit adds to the deposit of an account
	TypeDeposit InstrType = "Deposit"
	// TypePromote moves deposit to the spendable balance
	TypePromote InstrType = "Promote"
	// TypeWithdraw pays out part of the deposit
	TypeWithdraw InstrType = "Withdraw"
	// TypeTransfer is a signed offline transaction
	TypeTransfer InstrType = "Transfer"
	// TypeNewBatch closes the transfers of the current batch
	TypeNewBatch InstrType = "InstrTypeNewBatch"
)

// nolint
const (
	ILLEGAL token = iota
	WS
	EOF

	IDENT // val
)

// Instruction is the data structure that represents one line of code
type Instruction struct {
	LineNum   int
	Literal   string
	From      string
	To        string
	Amount    *big.Int
	TokenType common.TokenType
	Typ       InstrType
}

// parsedSet contains the full Set of Instructions representing a full code
type parsedSet struct {
	typ          setType
	instructions []Instruction
	users        []string
}

func (i Instruction) String() string {
	buf := bytes.NewBufferString("")
	fmt.Fprintf(buf, "Type: %s, ", i.Typ)
	fmt.Fprintf(buf, "From: %s, ", i.From)
	if i.Typ == TypeTransfer {
		fmt.Fprintf(buf, "To: %s, ", i.To)
	}
	fmt.Fprintf(buf, "Amount: %s %s\n", common.FormatAmount(i.TokenType, i.Amount), i.TokenType)
	return buf.String()
}

// raw returns a string with the raw representation of the Instruction
func (i Instruction) raw() string {
	buf := bytes.NewBufferString("")
	fmt.Fprintf(buf, "%s", i.Typ)
	if i.TokenType != common.TokenFLOW {
		fmt.Fprintf(buf, "(%s)", i.TokenType)
	}
	fmt.Fprintf(buf, "%s", i.From)
	if i.Typ == TypeTransfer {
		fmt.Fprintf(buf, "-%s", i.To)
	}
	fmt.Fprintf(buf, ":%s", common.FormatAmount(i.TokenType, i.Amount))
	return buf.String()
}

type token int

type scanner struct {
	r *bufio.Reader
}

func isWhitespace(ch rune) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '\v' || ch == '\f'
}

func isLetter(ch rune) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isComment(ch rune) bool {
	return ch == '/'
}

func isDigit(ch rune) bool {
	return (ch >= '0' && ch <= '9')
}

// newScanner creates a new scanner with the given io.Reader
func newScanner(r io.Reader) *scanner {
	return &scanner{r: bufio.NewReader(r)}
}

func (s *scanner) read() rune {
	ch, _, err := s.r.ReadRune()
	if err != nil {
		return eof
	}
	return ch
}

func (s *scanner) unread() {
	_ = s.r.UnreadRune()
}

// scan returns the token and literal string of the current value
func (s *scanner) scan() (tok token, lit string) {
	ch := s.read()

	if isWhitespace(ch) {
		// space
		s.unread()
		return s.scanWhitespace()
	} else if isLetter(ch) || isDigit(ch) {
		// letter/digit
		s.unread()
		return s.scanIndent()
	} else if isComment(ch) {
		// comment
		s.unread()
		return s.scanIndent()
	}

	if ch == eof {
		return EOF, ""
	}

	return ILLEGAL, string(ch)
}

func (s *scanner) scanWhitespace() (token token, lit string) {
	var buf bytes.Buffer
	buf.WriteRune(s.read())

	for {
		if ch := s.read(); ch == eof {
			break
		} else if !isWhitespace(ch) {
			s.unread()
			break
		} else {
			_, _ = buf.WriteRune(ch)
		}
	}
	return WS, buf.String()
}

// scanIndent scans an identifier or an amount, which can have a decimal
// point
func (s *scanner) scanIndent() (tok token, lit string) {
	var buf bytes.Buffer
	buf.WriteRune(s.read())

	for {
		if ch := s.read(); ch == eof {
			break
		} else if !isLetter(ch) && !isDigit(ch) && ch != '.' {
			s.unread()
			break
		} else {
			_, _ = buf.WriteRune(ch)
		}
	}

	if len(buf.String()) == 1 {
		return token(rune(buf.String()[0])), buf.String()
	}
	return IDENT, buf.String()
}

// parser defines the parser
type parser struct {
	s   *scanner
	buf struct {
		tok token
		lit string
		n   int
	}
}

// newParser creates a new parser from a io.Reader
func newParser(r io.Reader) *parser {
	return &parser{s: newScanner(r)}
}

func (p *parser) scan() (tok token, lit string) {
	// if there is a token in the buffer return it
	if p.buf.n != 0 {
		p.buf.n = 0
		return p.buf.tok, p.buf.lit
	}
	tok, lit = p.s.scan()

	p.buf.tok, p.buf.lit = tok, lit

	return
}

// unscan pushes the last token back, to be returned by the next scan
func (p *parser) unscan() {
	p.buf.n = 1
}

func (p *parser) scanIgnoreWhitespace() (tok token, lit string) {
	tok, lit = p.scan()
	if tok == WS {
		tok, lit = p.scan()
	}
	return
}

// skipLine discards the rest of the line, appending it to the literal of c
func (p *parser) skipLine(c *Instruction) {
	line, _ := p.s.r.ReadString('\n')
	if c != nil {
		c.Literal += line
	}
}

// parseLine parses the current line
func (p *parser) parseLine(setType setType) (*Instruction, error) {
	c := &Instruction{}
	tok, lit := p.scanIgnoreWhitespace()
	if tok == EOF {
		return nil, common.Wrap(errof)
	}
	c.Literal += lit
	if lit == "/" {
		p.skipLine(nil)
		return nil, commentLine
	} else if lit == ">" {
		if setType == SetTypeOffline {
			return c, common.Wrap(fmt.Errorf("Unexpected '>' at Offline set"))
		}
		_, lit = p.scanIgnoreWhitespace()
		if lit == "batch" {
			p.skipLine(nil)
			return &Instruction{Typ: TypeNewBatch}, newEventLine
		}
		return c, common.Wrap(fmt.Errorf("Unexpected '> %s', expected '> batch'", lit))
	} else if lit == "Type" {
		if err := p.expectChar(c, ":"); err != nil {
			return c, common.Wrap(err)
		}
		_, lit = p.scanIgnoreWhitespace()
		if lit == string(SetTypeLedger) || lit == string(SetTypeOffline) {
			return &Instruction{Typ: InstrType(lit)}, setTypeLine
		}
		return c,
			common.Wrap(fmt.Errorf("Invalid set type: '%s'. Valid set types: 'Ledger', 'Offline'", lit))
	}

	if setType == "" {
		return c, common.Wrap(fmt.Errorf("Set type not defined"))
	}

	switch setType {
	case SetTypeLedger:
		switch InstrType(lit) {
		case TypeInit, TypeDeposit, TypePromote, TypeWithdraw, TypeTransfer:
			c.Typ = InstrType(lit)
		default:
			return c, common.Wrap(fmt.Errorf("Unexpected Ledger instruction type: %s", lit))
		}
	case SetTypeOffline:
		if InstrType(lit) != TypeTransfer {
			return c, common.Wrap(fmt.Errorf("Unexpected Offline instruction type: %s", lit))
		}
		c.Typ = TypeTransfer
	default:
		return c,
			common.Wrap(fmt.Errorf("Invalid set type: '%s'. Valid set types: 'Ledger', 'Offline'",
				setType))
	}

	// optional token type, FLOW by default
	_, lit = p.scanIgnoreWhitespace()
	if lit == "(" {
		c.Literal += lit
		_, lit = p.scanIgnoreWhitespace()
		c.Literal += lit
		tokenType, err := common.TokenTypeFromString(lit)
		if err != nil {
			p.skipLine(c)
			return c, common.Wrap(err)
		}
		c.TokenType = tokenType
		if err := p.expectChar(c, ")"); err != nil {
			return c, common.Wrap(err)
		}
	} else {
		p.unscan()
	}

	_, lit = p.scanIgnoreWhitespace()
	c.Literal += lit
	c.From = lit

	if c.Typ == TypeTransfer {
		if err := p.expectChar(c, "-"); err != nil {
			return c, common.Wrap(err)
		}
		_, lit = p.scanIgnoreWhitespace()
		c.Literal += lit
		c.To = lit
	}

	if err := p.expectChar(c, ":"); err != nil {
		return c, common.Wrap(err)
	}
	tok, lit = p.scanIgnoreWhitespace()
	c.Literal += lit
	amount, err := common.ParseAmount(c.TokenType, lit)
	if err != nil {
		p.skipLine(c)
		return c, common.Wrap(fmt.Errorf("Can not parse number for Amount: %s", lit))
	}
	c.Amount = amount

	if tok == EOF {
		return nil, common.Wrap(errof)
	}
	return c, nil
}

func (p *parser) expectChar(c *Instruction, ch string) error {
	_, lit := p.scanIgnoreWhitespace()
	c.Literal += lit
	if lit != ch {
		p.skipLine(c)
		return common.Wrap(fmt.Errorf("Expected '%s', found '%s'", ch, lit))
	}
	return nil
}

// parse parses through reader
func (p *parser) parse() (*parsedSet, error) {
	ps := &parsedSet{}
	i := 0 // lines will start counting at line 1
	users := make(map[string]bool)
	for {
		i++
		instruction, err := p.parseLine(ps.typ)
		if common.Unwrap(err) == errof {
			break
		}
		if common.Unwrap(err) == setTypeLine {
			if ps.typ != "" {
				return ps,
					common.Wrap(fmt.Errorf("Line %d: Instruction of 'Type: %s' when "+
						"there is already a previous instruction 'Type: %s' defined",
						i, instruction.Typ, ps.typ))
			}
			if instruction.Typ == InstrType(SetTypeOffline) {
				ps.typ = SetTypeOffline
			} else if instruction.Typ == InstrType(SetTypeLedger) {
				ps.typ = SetTypeLedger
			} else {
				log.Fatalf("Line %d: Invalid set type: '%s'. Valid set types: "+
					"'Ledger', 'Offline'", i, instruction.Typ)
			}
			continue
		}
		if common.Unwrap(err) == commentLine {
			continue
		}
		instruction.LineNum = i
		if common.Unwrap(err) == newEventLine {
			ps.instructions = append(ps.instructions, *instruction)
			continue
		}
		if err != nil {
			return ps, common.Wrap(fmt.Errorf("Line %d: %s, err: %s", i, instruction.Literal, err.Error()))
		}
		if ps.typ == "" {
			return ps, common.Wrap(fmt.Errorf("Line %d: Set type not defined", i))
		}
		ps.instructions = append(ps.instructions, *instruction)
		users[instruction.From] = true
		if instruction.Typ == TypeTransfer {
			users[instruction.To] = true
		}
	}
	for u := range users {
		ps.users = append(ps.users, u)
	}
	sort.Strings(ps.users)
	return ps, nil
}
