package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/parlakisik/agent-exchange/aex-preference-estimator/internal/model"
)

// EncodeRequest renders a BLDMDL line (without the trailing newline).
func EncodeRequest(d model.Domain, r model.Ranking) (string, error) {
	toks := []string{OpBuildModel}
	for i, iss := range d.Issues {
		switch is := iss.(type) {
		case model.Discrete:
			toks = append(toks, TokDiscrete)
			for _, v := range is.Values {
				if err := checkLabel(v); err != nil {
					return "", err
				}
				toks = append(toks, v)
			}
			toks = append(toks, TokDiscreteEnd)
		case model.Integer:
			toks = append(toks, TokInteger,
				strconv.FormatInt(is.Lower, 10),
				strconv.FormatInt(is.Upper, 10),
				TokIntegerEnd)
		case nil:
			return "", protocolErr("issue %d is nil", i)
		}
	}
	for k, b := range r.Bids {
		if err := d.CheckBid(b); err != nil {
			return "", protocolErr("bid %d: %v", k, err)
		}
		toks = append(toks, TokBid)
		for _, v := range b.Values {
			toks = append(toks, v.String())
		}
		toks = append(toks, TokBidEnd)
	}
	if a := r.Anchors; a != nil {
		toks = append(toks, TokBounds, formatNumber(a.Low), formatNumber(a.High), TokBoundsEnd)
	}
	return strings.Join(toks, Delimiter), nil
}

type requestPhase int

const (
	phaseIssues requestPhase = iota
	phaseBids
	phaseBounds
)

// DecodeRequest parses a BLDMDL line. It never returns a partial result.
func DecodeRequest(line string) (model.Domain, model.Ranking, error) {
	s, err := newScanner(line)
	if err != nil {
		return model.Domain{}, model.Ranking{}, err
	}
	op, _ := s.next()
	if op != OpBuildModel {
		return model.Domain{}, model.Ranking{}, protocolErr("unknown opcode %q", op)
	}

	var (
		domain  model.Domain
		ranking model.Ranking
		phase   = phaseIssues
	)
	for !s.done() {
		tok, _ := s.next()
		switch tok {
		case TokInteger:
			if phase != phaseIssues {
				return model.Domain{}, model.Ranking{}, protocolErr("issue block after bids")
			}
			iss, err := decodeInteger(s)
			if err != nil {
				return model.Domain{}, model.Ranking{}, err
			}
			domain.Issues = append(domain.Issues, iss)
		case TokDiscrete:
			if phase != phaseIssues {
				return model.Domain{}, model.Ranking{}, protocolErr("issue block after bids")
			}
			values, err := s.until(TokDiscrete)
			if err != nil {
				return model.Domain{}, model.Ranking{}, err
			}
			domain.Issues = append(domain.Issues, model.Discrete{Values: values})
		case TokBid:
			if phase == phaseBounds {
				return model.Domain{}, model.Ranking{}, protocolErr("bid block after bounds")
			}
			phase = phaseBids
			bid, err := decodeBid(s, domain, len(ranking.Bids))
			if err != nil {
				return model.Domain{}, model.Ranking{}, err
			}
			ranking.Bids = append(ranking.Bids, bid)
		case TokBounds:
			if phase == phaseBounds {
				return model.Domain{}, model.Ranking{}, protocolErr("repeated bounds block")
			}
			phase = phaseBounds
			anchors, err := decodeBounds(s)
			if err != nil {
				return model.Domain{}, model.Ranking{}, err
			}
			ranking.Anchors = anchors
		default:
			return model.Domain{}, model.Ranking{}, protocolErr("unexpected token %q", tok)
		}
	}
	return domain, ranking, nil
}

func decodeInteger(s *scanner) (model.Integer, error) {
	var bounds [2]int64
	for i := range bounds {
		tok, err := s.field(TokInteger)
		if err != nil {
			return model.Integer{}, err
		}
		n, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			return model.Integer{}, protocolErr("bad integer bound %q", tok)
		}
		bounds[i] = n
	}
	if err := s.close(TokInteger); err != nil {
		return model.Integer{}, err
	}
	return model.Integer{Lower: bounds[0], Upper: bounds[1]}, nil
}

func decodeBid(s *scanner, d model.Domain, k int) (model.Bid, error) {
	values := make([]model.Value, 0, len(d.Issues))
	for i, iss := range d.Issues {
		tok, err := s.field(TokBid)
		if err != nil {
			return model.Bid{}, err
		}
		switch is := iss.(type) {
		case model.Discrete:
			if is.IndexOf(tok) < 0 {
				return model.Bid{}, protocolErr("bid %d issue %d: unknown value %q", k, i, tok)
			}
			values = append(values, model.LabelValue(tok))
		case model.Integer:
			n, err := strconv.ParseInt(tok, 10, 64)
			if err != nil {
				return model.Bid{}, protocolErr("bid %d issue %d: %q is not an integer", k, i, tok)
			}
			if n < is.Lower || n > is.Upper {
				return model.Bid{}, protocolErr("bid %d issue %d: %d outside [%d,%d]", k, i, n, is.Lower, is.Upper)
			}
			values = append(values, model.IntValue(n))
		}
	}
	if err := s.close(TokBid); err != nil {
		return model.Bid{}, fmt.Errorf("bid %d with %d issues: %w", k, len(d.Issues), err)
	}
	return model.Bid{Values: values}, nil
}

func decodeBounds(s *scanner) (*model.Anchors, error) {
	var vals [2]float64
	for i := range vals {
		tok, err := s.field(TokBounds)
		if err != nil {
			return nil, err
		}
		v, err := parseNumber(tok)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	if err := s.close(TokBounds); err != nil {
		return nil, err
	}
	return &model.Anchors{Low: vals[0], High: vals[1]}, nil
}
