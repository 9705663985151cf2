// Package protocol encodes estimate requests and responses as single
// ";;;"-delimited lines.
package protocol

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/parlakisik/agent-exchange/aex-preference-estimator/internal/model"
)

const Delimiter = ";;;"

const (
	OpBuildModel = "BLDMDL"
	OpModel      = "MDL"
	OpError      = "ERR"

	TokDiscrete    = "DIS"
	TokDiscreteEnd = "EDIS"
	TokInteger     = "CON"
	TokIntegerEnd  = "ECON"
	TokBid         = "BID"
	TokBidEnd      = "EBID"
	TokBounds      = "BND"
	TokBoundsEnd   = "EBND"
	TokWeights     = "WHT"
	TokWeightsEnd  = "EWHT"
)

// ErrRejected is returned when the estimator answered ERR.
var ErrRejected = errors.New("estimator rejected request")

var openers = map[string]string{
	TokDiscrete: TokDiscreteEnd,
	TokInteger:  TokIntegerEnd,
	TokBid:      TokBidEnd,
	TokBounds:   TokBoundsEnd,
	TokWeights:  TokWeightsEnd,
}

func reserved(tok string) bool {
	switch tok {
	case OpBuildModel, OpModel, OpError,
		TokDiscrete, TokDiscreteEnd, TokInteger, TokIntegerEnd,
		TokBid, TokBidEnd, TokBounds, TokBoundsEnd, TokWeights, TokWeightsEnd:
		return true
	}
	return false
}

func protocolErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", model.ErrProtocol, fmt.Sprintf(format, args...))
}

// checkLabel rejects labels that cannot be carried unambiguously.
func checkLabel(label string) error {
	switch {
	case label == "":
		return protocolErr("empty label")
	case reserved(label):
		return protocolErr("label %q is a reserved token", label)
	case strings.Contains(label, Delimiter), strings.ContainsAny(label, "\r\n"):
		return protocolErr("label %q contains a delimiter or line break", label)
	}
	return nil
}

func formatNumber(v float64) string {
	return decimal.NewFromFloat(v).String()
}

func parseNumber(tok string) (float64, error) {
	d, err := decimal.NewFromString(tok)
	if err != nil {
		return 0, protocolErr("bad number %q", tok)
	}
	return d.InexactFloat64(), nil
}

// scanner walks the tokens of one message.
type scanner struct {
	toks []string
	pos  int
}

func newScanner(line string) (*scanner, error) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil, protocolErr("empty message")
	}
	toks := strings.Split(line, Delimiter)
	if toks[len(toks)-1] == "" {
		toks = toks[:len(toks)-1]
	}
	for i, tok := range toks {
		if tok == "" {
			return nil, protocolErr("empty token at position %d", i)
		}
	}
	return &scanner{toks: toks}, nil
}

func (s *scanner) done() bool { return s.pos >= len(s.toks) }

func (s *scanner) peek() string {
	if s.done() {
		return ""
	}
	return s.toks[s.pos]
}

func (s *scanner) next() (string, error) {
	if s.done() {
		return "", protocolErr("unexpected end of message")
	}
	tok := s.toks[s.pos]
	s.pos++
	return tok, nil
}

// field reads a payload token inside the block opened by open. Reaching any
// reserved token means the block was not closed.
func (s *scanner) field(open string) (string, error) {
	tok, err := s.next()
	if err != nil {
		return "", protocolErr("%s block not closed", open)
	}
	if reserved(tok) {
		return "", protocolErr("%s block not closed before %s", open, tok)
	}
	return tok, nil
}

func (s *scanner) close(open string) error {
	want := openers[open]
	tok, err := s.next()
	if err != nil {
		return protocolErr("%s block not closed", open)
	}
	if tok != want {
		return protocolErr("expected %s, got %q", want, tok)
	}
	return nil
}

// until reads payload tokens up to the closing token of open.
func (s *scanner) until(open string) ([]string, error) {
	want := openers[open]
	var out []string
	for {
		tok, err := s.next()
		if err != nil {
			return nil, protocolErr("%s block not closed", open)
		}
		if tok == want {
			return out, nil
		}
		if reserved(tok) {
			return nil, protocolErr("%s block not closed before %s", open, tok)
		}
		out = append(out, tok)
	}
}
