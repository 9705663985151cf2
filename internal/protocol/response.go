package protocol

import (
	"fmt"
	"strings"

	"github.com/parlakisik/agent-exchange/aex-preference-estimator/internal/model"
)

// EncodeError is the only failure response.
func EncodeError() string { return OpError }

// EncodeResponse renders an MDL line for s (without the trailing newline).
func EncodeResponse(s *model.UtilitySpace) (string, error) {
	if err := s.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrProtocol, err)
	}
	toks := []string{OpModel}
	for i, iss := range s.Domain.Issues {
		switch iss.(type) {
		case model.Discrete:
			ev := s.Evaluators[i].(model.DiscreteEvaluator)
			toks = append(toks, TokDiscrete)
			for _, u := range ev.Utilities {
				toks = append(toks, formatNumber(u))
			}
			toks = append(toks, TokDiscreteEnd)
		case model.Integer:
			ev := s.Evaluators[i].(model.IntegerEvaluator)
			toks = append(toks, TokInteger, formatNumber(ev.MinUtil), formatNumber(ev.MaxUtil), TokIntegerEnd)
		}
	}
	toks = append(toks, TokWeights)
	for _, w := range s.Weights {
		toks = append(toks, formatNumber(w))
	}
	toks = append(toks, TokWeightsEnd)
	return strings.Join(toks, Delimiter), nil
}

// DecodeResponse parses an MDL line against the domain the request was built
// from. An ERR line yields ErrRejected.
func DecodeResponse(line string, d model.Domain) (*model.UtilitySpace, error) {
	s, err := newScanner(line)
	if err != nil {
		return nil, err
	}
	op, _ := s.next()
	switch op {
	case OpModel:
	case OpError:
		if !s.done() {
			return nil, protocolErr("trailing tokens after %s", OpError)
		}
		return nil, ErrRejected
	default:
		return nil, protocolErr("unknown opcode %q", op)
	}

	space := &model.UtilitySpace{
		Domain:     d,
		Weights:    make([]float64, 0, len(d.Issues)),
		Evaluators: make([]model.Evaluator, 0, len(d.Issues)),
	}
	for i, iss := range d.Issues {
		tok, err := s.next()
		if err != nil {
			return nil, protocolErr("missing result for issue %d", i)
		}
		switch is := iss.(type) {
		case model.Discrete:
			if tok != TokDiscrete {
				return nil, protocolErr("issue %d: expected %s, got %q", i, TokDiscrete, tok)
			}
			raw, err := s.until(TokDiscrete)
			if err != nil {
				return nil, err
			}
			if len(raw) != len(is.Values) {
				return nil, protocolErr("issue %d: %d utilities for %d values", i, len(raw), len(is.Values))
			}
			utils, err := parseNumbers(raw)
			if err != nil {
				return nil, err
			}
			space.Evaluators = append(space.Evaluators, model.DiscreteEvaluator{Utilities: utils})
		case model.Integer:
			if tok != TokInteger {
				return nil, protocolErr("issue %d: expected %s, got %q", i, TokInteger, tok)
			}
			var bounds [2]float64
			for j := range bounds {
				f, err := s.field(TokInteger)
				if err != nil {
					return nil, err
				}
				if bounds[j], err = parseNumber(f); err != nil {
					return nil, err
				}
			}
			if err := s.close(TokInteger); err != nil {
				return nil, err
			}
			space.Evaluators = append(space.Evaluators, model.IntegerEvaluator{MinUtil: bounds[0], MaxUtil: bounds[1]})
		}
	}

	tok, err := s.next()
	if err != nil || tok != TokWeights {
		return nil, protocolErr("expected %s block", TokWeights)
	}
	raw, err := s.until(TokWeights)
	if err != nil {
		return nil, err
	}
	if len(raw) != len(d.Issues) {
		return nil, protocolErr("%d weights for %d issues", len(raw), len(d.Issues))
	}
	if space.Weights, err = parseNumbers(raw); err != nil {
		return nil, err
	}
	if !s.done() {
		return nil, protocolErr("trailing token %q", s.peek())
	}
	if err := space.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrProtocol, err)
	}
	return space, nil
}

func parseNumbers(toks []string) ([]float64, error) {
	out := make([]float64, len(toks))
	for i, tok := range toks {
		v, err := parseNumber(tok)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
