// Package result converts domain errors and panics into the uniform
// success/failure value returned at every operation boundary.
package result

import (
	"fmt"

	"github.com/dkeye/Conference/internal/apperr"
	"github.com/rs/zerolog/log"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

type Result[T any] struct {
	Status  Status      `json:"status"`
	Data    T           `json:"data,omitempty"`
	Kind    apperr.Kind `json:"kind,omitempty"`
	Message string      `json:"message,omitempty"`

	err error
}

// Empty is the payload of operations that only report success.
type Empty struct{}

func Success[T any](data T) Result[T] {
	return Result[T]{Status: StatusSuccess, Data: data}
}

func Failure[T any](err error) Result[T] {
	if err == nil {
		err = apperr.Internal(fmt.Errorf("failure without error"))
	}
	return Result[T]{
		Status:  StatusFailed,
		Kind:    apperr.KindOf(err),
		Message: err.Error(),
		err:     err,
	}
}

func (r Result[T]) Ok() bool { return r.Status == StatusSuccess }

// Err returns the error a failure was built from, nil on success.
func (r Result[T]) Err() error {
	if r.Ok() {
		return nil
	}
	if r.err != nil {
		return r.err
	}
	return &apperr.Error{Kind: r.Kind, Message: r.Message}
}

// Wrap runs fn and never lets a panic escape: it becomes an internal failure
// carrying the panic message.
func Wrap[T any](fn func() (T, error)) (res Result[T]) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Str("module", "result").Interface("panic", p).Msg("recovered from panic")
			res = Failure[T](apperr.Internal(fmt.Errorf("%v", p)))
		}
	}()
	data, err := fn()
	if err != nil {
		return Failure[T](err)
	}
	return Success(data)
}

func WrapVoid(fn func() error) Result[Empty] {
	return Wrap(func() (Empty, error) {
		return Empty{}, fn()
	})
}
