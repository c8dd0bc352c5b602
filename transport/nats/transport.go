package nats

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/go-kit/kit/endpoint"
	"github.com/nats-io/nats.go/micro"

	"github.com/flarexio/ragblade"
)

func respondError(r micro.Request, err error) {
	data, _ := json.Marshal(ragblade.NewErrorResponse(err))
	code := strconv.Itoa(ragblade.StatusCode(err))
	r.Error(code, err.Error(), data)
}

func badRequest(r micro.Request, err error) {
	data, _ := json.Marshal(ragblade.NewErrorResponse(err))
	r.Error("400", err.Error(), data)
}

func IngestHandler(endpoint endpoint.Endpoint) micro.HandlerFunc {
	return func(r micro.Request) {
		var req ragblade.IngestRequest
		if err := json.Unmarshal(r.Data(), &req); err != nil {
			badRequest(r, err)
			return
		}

		ctx := context.Background()
		resp, err := endpoint(ctx, req)
		if err != nil {
			respondError(r, err)
			return
		}

		r.RespondJSON(&resp)
	}
}

func SearchHandler(endpoint endpoint.Endpoint) micro.HandlerFunc {
	return func(r micro.Request) {
		var req ragblade.SearchRequest
		if err := json.Unmarshal(r.Data(), &req); err != nil {
			badRequest(r, err)
			return
		}

		ctx := context.Background()
		resp, err := endpoint(ctx, req)
		if err != nil {
			respondError(r, err)
			return
		}

		r.RespondJSON(&resp)
	}
}

func AnswerHandler(endpoint endpoint.Endpoint) micro.HandlerFunc {
	return func(r micro.Request) {
		var req ragblade.AnswerRequest
		if err := json.Unmarshal(r.Data(), &req); err != nil {
			badRequest(r, err)
			return
		}

		ctx := context.Background()
		resp, err := endpoint(ctx, req)
		if err != nil {
			respondError(r, err)
			return
		}

		r.RespondJSON(&resp)
	}
}

func DescribeHandler(endpoint endpoint.Endpoint) micro.HandlerFunc {
	return func(r micro.Request) {
		ctx := context.Background()
		resp, err := endpoint(ctx, nil)
		if err != nil {
			respondError(r, err)
			return
		}

		r.RespondJSON(&resp)
	}
}

func DropHandler(endpoint endpoint.Endpoint) micro.HandlerFunc {
	return func(r micro.Request) {
		ctx := context.Background()
		_, err := endpoint(ctx, nil)
		if err != nil {
			respondError(r, err)
			return
		}

		r.Respond([]byte("OK"))
	}
}
