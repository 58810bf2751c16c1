// Package health checks every backend instance behind a fanout name: can a
// designated key be read, and does its value comport with what is expected.
// Partial success is the normal outcome; each instance gets its own row.
package health

import (
	"context"
	"sort"
	"strings"

	"github.com/m3047/totalizer/internal/fanout"
	"github.com/m3047/totalizer/internal/rkv"
)

// DefaultKey is the conventional health key name.
const DefaultKey = "health"

type expectKind int

const (
	expectLiteral expectKind = iota
	expectFanoutName
	expectNoCheck
)

// Expectation describes what a healthy instance's key should hold.
type Expectation struct {
	kind  expectKind
	value string
}

// ExpectLiteral expects the same fixed value from every instance.
func ExpectLiteral(value string) Expectation {
	return Expectation{kind: expectLiteral, value: value}
}

// ExpectFanoutName expects each instance to hold its own (lowercased)
// instance name.
func ExpectFanoutName() Expectation {
	return Expectation{kind: expectFanoutName}
}

// ExpectNoCheck accepts any value; a successful read is all that is checked.
func ExpectNoCheck() Expectation {
	return Expectation{kind: expectNoCheck}
}

// Valid reports whether a value read from endpoint satisfies the
// expectation.
func (e Expectation) Valid(endpoint fanout.Endpoint, value string) bool {
	switch e.kind {
	case expectFanoutName:
		return strings.TrimSuffix(strings.ToLower(value), ".") == strings.TrimSuffix(strings.ToLower(string(endpoint)), ".")
	case expectNoCheck:
		return true
	default:
		return value == e.value
	}
}

// Status is one instance's health row.
type Status struct {
	Endpoint fanout.Endpoint
	Readable bool  // key read succeeded
	Valid    bool  // value comported with the expectation
	Err      error // read failure reason, when not Readable
}

// Check reads key from every instance behind name and validates the values.
// Rows come back sorted by endpoint; read failures are rows with Readable
// false, never an aborted check.
func Check(ctx context.Context, engine *fanout.Engine, reader rkv.Reader, name, key string, expect Expectation) ([]Status, error) {
	if key == "" {
		key = DefaultKey
	}

	op := func(ctx context.Context, endpoint fanout.Endpoint) (Status, error) {
		value, err := reader.Get(ctx, string(endpoint), key)
		if err != nil {
			return Status{Endpoint: endpoint, Err: err}, nil
		}
		return Status{
			Endpoint: endpoint,
			Readable: true,
			Valid:    expect.Valid(endpoint, value),
		}, nil
	}

	statuses, failures, err := fanout.Do(ctx, engine, name, op, fanout.Collect)
	if err != nil {
		return nil, err
	}
	// Endpoints abandoned at the overall deadline never produced a row of
	// their own; every instance still gets one.
	for _, failure := range failures {
		statuses = append(statuses, Status{Endpoint: failure.Endpoint, Err: failure.Err})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Endpoint < statuses[j].Endpoint })
	return statuses, nil
}
