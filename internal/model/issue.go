package model

import (
	"fmt"
	"strconv"
)

type IssueKind int

const (
	KindDiscrete IssueKind = iota + 1
	KindInteger
)

func (k IssueKind) String() string {
	switch k {
	case KindDiscrete:
		return "discrete"
	case KindInteger:
		return "integer"
	}
	return "unknown"
}

// Issue is one negotiable attribute. The only implementations are Discrete and
// Integer; consumers switch over both.
type Issue interface {
	Kind() IssueKind
	isIssue()
}

// Discrete is an issue with an ordered list of distinct labels.
type Discrete struct {
	Values []string
}

func (Discrete) Kind() IssueKind { return KindDiscrete }
func (Discrete) isIssue()        {}

// IndexOf returns the position of label, or -1.
func (d Discrete) IndexOf(label string) int {
	for i, v := range d.Values {
		if v == label {
			return i
		}
	}
	return -1
}

// Integer is an issue over the closed range [Lower, Upper].
type Integer struct {
	Lower int64
	Upper int64
}

func (Integer) Kind() IssueKind { return KindInteger }
func (Integer) isIssue()        {}

// Span is Upper - Lower as a float. The difference is taken in float64 so that
// bounds spanning most of the int64 range do not wrap.
func (n Integer) Span() float64 {
	return float64(n.Upper) - float64(n.Lower)
}

// Offset is x - Lower as a float.
func (n Integer) Offset(x int64) float64 {
	return float64(x) - float64(n.Lower)
}

// Domain is the ordered list of issues. An issue's index is its position.
type Domain struct {
	Issues []Issue
}

func NewDomain(issues ...Issue) Domain {
	return Domain{Issues: issues}
}

func (d Domain) Validate() error {
	if len(d.Issues) == 0 {
		return fmt.Errorf("%w: domain has no issues", ErrMalformedDomain)
	}
	for i, iss := range d.Issues {
		switch is := iss.(type) {
		case Discrete:
			if len(is.Values) == 0 {
				return fmt.Errorf("%w: issue %d has no values", ErrMalformedDomain, i)
			}
			seen := make(map[string]struct{}, len(is.Values))
			for _, v := range is.Values {
				if _, dup := seen[v]; dup {
					return fmt.Errorf("%w: issue %d repeats value %q", ErrMalformedDomain, i, v)
				}
				seen[v] = struct{}{}
			}
		case Integer:
			if is.Lower >= is.Upper {
				return fmt.Errorf("%w: issue %d has bounds [%d,%d]", ErrMalformedDomain, i, is.Lower, is.Upper)
			}
		case nil:
			return fmt.Errorf("%w: issue %d is nil", ErrMalformedDomain, i)
		}
	}
	return nil
}

// Value is the value a bid assigns to one issue.
type Value struct {
	Kind  IssueKind
	Label string
	Int   int64
}

func LabelValue(label string) Value { return Value{Kind: KindDiscrete, Label: label} }
func IntValue(n int64) Value        { return Value{Kind: KindInteger, Int: n} }

func (v Value) String() string {
	if v.Kind == KindInteger {
		return strconv.FormatInt(v.Int, 10)
	}
	return v.Label
}

// Bid assigns one value per issue, in issue order.
type Bid struct {
	Values []Value
}

func NewBid(values ...Value) Bid {
	return Bid{Values: values}
}

// CheckBid reports whether b is a point of the domain.
func (d Domain) CheckBid(b Bid) error {
	if len(b.Values) != len(d.Issues) {
		return fmt.Errorf("bid has %d values for %d issues", len(b.Values), len(d.Issues))
	}
	for i, iss := range d.Issues {
		v := b.Values[i]
		switch is := iss.(type) {
		case Discrete:
			if v.Kind != KindDiscrete {
				return fmt.Errorf("issue %d expects a label, got %s", i, v.Kind)
			}
			if is.IndexOf(v.Label) < 0 {
				return fmt.Errorf("issue %d has no value %q", i, v.Label)
			}
		case Integer:
			if v.Kind != KindInteger {
				return fmt.Errorf("issue %d expects an integer, got %s", i, v.Kind)
			}
			if v.Int < is.Lower || v.Int > is.Upper {
				return fmt.Errorf("issue %d value %d outside [%d,%d]", i, v.Int, is.Lower, is.Upper)
			}
		}
	}
	return nil
}

// Anchors pin the absolute utility of the first and last ranked bid.
type Anchors struct {
	Low  float64
	High float64
}

// Ranking lists bids from worst to best.
type Ranking struct {
	Bids    []Bid
	Anchors *Anchors
}

func (r Ranking) Validate(d Domain) error {
	if len(r.Bids) == 0 {
		return fmt.Errorf("%w: no bids", ErrEmptyRanking)
	}
	if a := r.Anchors; a != nil {
		if len(r.Bids) < 2 {
			return fmt.Errorf("%w: anchors need at least two bids, got %d", ErrEmptyRanking, len(r.Bids))
		}
		if a.Low < 0 || a.Low > 1 || a.High < 0 || a.High > 1 {
			return fmt.Errorf("%w: anchors %g/%g outside [0,1]", ErrMalformedDomain, a.Low, a.High)
		}
	}
	for k, b := range r.Bids {
		if err := d.CheckBid(b); err != nil {
			return fmt.Errorf("%w: bid %d: %v", ErrMalformedDomain, k, err)
		}
	}
	return nil
}
