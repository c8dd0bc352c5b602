package nats

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/go-kit/kit/endpoint"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"

	"github.com/flarexio/ragblade"
	"github.com/flarexio/ragblade/vector"
)

// DefaultTimeout bounds a remote call whose context carries no deadline.
// Answers wait on a generation model, so it is far above nats.DefaultTimeout.
var DefaultTimeout = 2 * time.Minute

func MakeEndpoints(nc *nats.Conn, prefix string) *ragblade.EndpointSet {
	return &ragblade.EndpointSet{
		Ingest:   IngestEndpoint(nc, prefix+"."+TopicIngest),
		Search:   SearchEndpoint(nc, prefix+"."+TopicSearch),
		Answer:   AnswerEndpoint(nc, prefix+"."+TopicAnswer),
		Describe: DescribeEndpoint(nc, prefix+"."+TopicDescribe),
		Drop:     DropEndpoint(nc, prefix+"."+TopicDrop),
	}
}

func roundTrip(ctx context.Context, nc *nats.Conn, topic string, data []byte) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	msg, err := nc.RequestWithContext(ctx, topic, data)
	if err != nil {
		return nil, err
	}

	if err := Error(msg); err != nil {
		return nil, err
	}

	return msg.Data, nil
}

func IngestEndpoint(nc *nats.Conn, topic string) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(ragblade.IngestRequest)
		if !ok {
			return nil, ragblade.ErrInvalidRequest
		}

		return call[ragblade.IngestReport](ctx, nc, topic, &req)
	}
}

func SearchEndpoint(nc *nats.Conn, topic string) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(ragblade.SearchRequest)
		if !ok {
			return nil, ragblade.ErrInvalidRequest
		}

		return call[vector.Result](ctx, nc, topic, &req)
	}
}

func AnswerEndpoint(nc *nats.Conn, topic string) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(ragblade.AnswerRequest)
		if !ok {
			return nil, ragblade.ErrInvalidRequest
		}

		return call[ragblade.Answer](ctx, nc, topic, &req)
	}
}

func DescribeEndpoint(nc *nats.Conn, topic string) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		return call[vector.Info](ctx, nc, topic, nil)
	}
}

func DropEndpoint(nc *nats.Conn, topic string) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		_, err := roundTrip(ctx, nc, topic, nil)
		return nil, err
	}
}

func call[T any](ctx context.Context, nc *nats.Conn, topic string, req any) (T, error) {
	var resp T

	var data []byte
	if req != nil {
		bs, err := json.Marshal(req)
		if err != nil {
			return resp, err
		}

		data = bs
	}

	bs, err := roundTrip(ctx, nc, topic, data)
	if err != nil {
		return resp, err
	}

	if err := json.Unmarshal(bs, &resp); err != nil {
		return resp, err
	}

	return resp, nil
}

// Error decodes a micro error reply back into a typed error.
func Error(msg *nats.Msg) error {
	if msg == nil {
		return errors.New("nil message")
	}

	code := msg.Header.Get(micro.ErrorCodeHeader)
	if code == "" {
		return nil
	}

	description := msg.Header.Get(micro.ErrorHeader)
	if description == "" {
		description = "unknown error"
	}

	resp := ragblade.ErrorResponse{
		Error: description,
	}

	if len(msg.Data) > 0 {
		var body ragblade.ErrorResponse
		if err := json.Unmarshal(msg.Data, &body); err == nil && body.Error != "" {
			resp = body
		}
	}

	status, err := strconv.Atoi(code)
	if err != nil {
		return errors.New(code + ":" + description)
	}

	return ragblade.RemoteError(status, resp)
}
