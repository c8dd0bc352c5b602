package ragblade

import (
	"context"

	"github.com/go-kit/kit/endpoint"

	"github.com/flarexio/ragblade/rag"
	"github.com/flarexio/ragblade/vector"
)

type EndpointSet struct {
	Ingest   endpoint.Endpoint
	Search   endpoint.Endpoint
	Answer   endpoint.Endpoint
	Describe endpoint.Endpoint
	Drop     endpoint.Endpoint
}

func NewEndpointSet(svc Service) *EndpointSet {
	return &EndpointSet{
		Ingest:   IngestEndpoint(svc),
		Search:   SearchEndpoint(svc),
		Answer:   AnswerEndpoint(svc),
		Describe: DescribeEndpoint(svc),
		Drop:     DropEndpoint(svc),
	}
}

type IngestRequest struct {
	Documents []rag.Document `json:"documents"`
}

func IngestEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(IngestRequest)
		if !ok {
			return nil, ErrInvalidRequest
		}

		return svc.Ingest(ctx, req.Documents)
	}
}

type SearchRequest struct {
	Query  string        `json:"query"`
	K      int           `json:"k,omitempty"`
	Filter vector.Filter `json:"filter,omitempty"`
}

func SearchEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(SearchRequest)
		if !ok {
			return nil, ErrInvalidRequest
		}

		return svc.Search(ctx, req.Query, req.K, req.Filter)
	}
}

type AnswerRequest struct {
	Question string `json:"question"`
}

func AnswerEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(AnswerRequest)
		if !ok {
			return nil, ErrInvalidRequest
		}

		return svc.Answer(ctx, req.Question)
	}
}

func DescribeEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		return svc.Describe(ctx)
	}
}

func DropEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		err := svc.Drop(ctx)
		return nil, err
	}
}
