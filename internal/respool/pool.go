// Package respool caps in-process concurrency toward external resource
// classes (PDF rendering, the email provider, plain network calls).
//
// The pool is strictly local to one runner process: it does not coordinate
// across runner instances. Cross-instance concurrency is bounded by the claim
// batch size instead.
package respool

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

const (
	ClassPDFGeneration = "pdf_generation"
	ClassEmailSending  = "email_sending"
	ClassNetwork       = "network_requests"
)

type Pool struct {
	sems map[string]*semaphore.Weighted
}

// New builds a pool from class -> limit. Limits must be positive.
func New(limits map[string]int64) (*Pool, error) {
	sems := make(map[string]*semaphore.Weighted, len(limits))
	for class, limit := range limits {
		if limit <= 0 {
			return nil, fmt.Errorf("respool: limit for %q must be positive, got %d", class, limit)
		}
		sems[class] = semaphore.NewWeighted(limit)
	}
	return &Pool{sems: sems}, nil
}

// Acquire blocks until a slot in the class is free or ctx is done.
// It returns the release func for the slot.
func (p *Pool) Acquire(ctx context.Context, class string) (func(), error) {
	sem, ok := p.sems[class]
	if !ok {
		return nil, fmt.Errorf("respool: unknown resource class %q", class)
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}
