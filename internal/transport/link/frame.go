// Package link carries master/controller messages as framed websocket traffic.
package link

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alanyang/task-mesh/internal/service/master"
)

var (
	ErrNotConnected   = errors.New("link not connected")
	ErrSendBuffer     = errors.New("link send buffer full")
	ErrRequestTimeout = errors.New("link request timed out")
	ErrBadRequest     = errors.New("link request rejected as invalid")
	ErrRemote         = errors.New("link request failed on the master")
)

type FrameType string

const (
	FrameRequest  FrameType = "request"
	FrameResponse FrameType = "response"
	FrameEvent    FrameType = "event"
	FrameErr      FrameType = "error"
)

// Frame is the envelope for every message on the link. Data is always the
// JSON form of the method payload, whatever the frame codec.
type Frame struct {
	ID        string          `json:"id" msgpack:"id"`
	Type      FrameType       `json:"type" msgpack:"type"`
	Method    string          `json:"method,omitempty" msgpack:"method,omitempty"`
	CorrelID  string          `json:"correl_id,omitempty" msgpack:"correl_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty" msgpack:"data,omitempty"`
	Error     *ErrorDetail    `json:"error,omitempty" msgpack:"error,omitempty"`
	Timestamp time.Time       `json:"ts" msgpack:"ts"`
}

type ErrorDetail struct {
	Code    int    `json:"code" msgpack:"code"`
	Message string `json:"message" msgpack:"message"`
}

const (
	MethodRegister   = "controller.register"
	MethodDeregister = "controller.deregister"
	MethodHeartbeat  = "controller.heartbeat"
	MethodAck        = "task.ack"
	MethodReport     = "task.report"
	MethodDispatch   = "task.dispatch"
	MethodShutdown   = "cluster.shutdown"
)

const (
	CodeBadRequest  = 400
	CodeNotFound    = 404
	CodeConflict    = 409
	CodeGone        = 410
	CodeInternal    = 500
	CodeUnavailable = 503
)

func newFrame(typ FrameType, method string, payload any) (*Frame, error) {
	f := &Frame{
		ID:        uuid.NewString(),
		Type:      typ,
		Method:    method,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", method, err)
		}
		f.Data = data
	}
	return f, nil
}

func responseTo(req *Frame, payload any) (*Frame, error) {
	f, err := newFrame(FrameResponse, req.Method, payload)
	if err != nil {
		return nil, err
	}
	f.CorrelID = req.ID
	return f, nil
}

func errorTo(req *Frame, err error) *Frame {
	return &Frame{
		ID:        uuid.NewString(),
		Type:      FrameErr,
		Method:    req.Method,
		CorrelID:  req.ID,
		Error:     &ErrorDetail{Code: codeFor(err), Message: err.Error()},
		Timestamp: time.Now().UTC(),
	}
}

// codeFor maps master errors onto link error codes.
func codeFor(err error) int {
	switch {
	case errors.Is(err, master.ErrDuplicateController), errors.Is(err, master.ErrTaskConflict):
		return CodeConflict
	case errors.Is(err, master.ErrUnknownController), errors.Is(err, master.ErrTaskNotFound):
		return CodeNotFound
	case errors.Is(err, master.ErrControllerDead):
		return CodeGone
	case errors.Is(err, master.ErrDraining), errors.Is(err, master.ErrStopped):
		return CodeUnavailable
	case errors.Is(err, master.ErrInvalidRegistration), errors.Is(err, master.ErrInvalidCapacity),
		errors.Is(err, master.ErrInvalidTask), errors.Is(err, ErrBadRequest):
		return CodeBadRequest
	default:
		return CodeInternal
	}
}

// RemoteError is an error frame received from the master. It unwraps to the
// master sentinel matching its code so callers can use errors.Is.
type RemoteError struct {
	Method  string
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: remote error %d: %s", e.Method, e.Code, e.Message)
}

func (e *RemoteError) Unwrap() error {
	switch e.Code {
	case CodeConflict:
		return master.ErrDuplicateController
	case CodeNotFound:
		return master.ErrUnknownController
	case CodeGone:
		return master.ErrControllerDead
	case CodeUnavailable:
		return master.ErrDraining
	case CodeBadRequest:
		return ErrBadRequest
	default:
		return ErrRemote
	}
}
