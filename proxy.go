package ragblade

import (
	"context"

	"github.com/flarexio/ragblade/rag"
	"github.com/flarexio/ragblade/vector"
)

func ProxyMiddleware(endpoints *EndpointSet) ServiceMiddleware {
	return func(next Service) Service {
		return &proxyMiddleware{
			endpoints: endpoints,
		}
	}
}

type proxyMiddleware struct {
	endpoints *EndpointSet
}

func (mw *proxyMiddleware) Close() error {
	return ErrNotImplemented
}

func (mw *proxyMiddleware) Ingest(ctx context.Context, docs []rag.Document) (IngestReport, error) {
	req := IngestRequest{
		Documents: docs,
	}

	resp, err := mw.endpoints.Ingest(ctx, req)
	if err != nil {
		return IngestReport{}, err
	}

	report, ok := resp.(IngestReport)
	if !ok {
		return IngestReport{}, ErrInvalidResponse
	}

	return report, nil
}

func (mw *proxyMiddleware) Search(ctx context.Context, query string, k int, filter vector.Filter) (vector.Result, error) {
	req := SearchRequest{
		Query:  query,
		K:      k,
		Filter: filter,
	}

	resp, err := mw.endpoints.Search(ctx, req)
	if err != nil {
		return nil, err
	}

	result, ok := resp.(vector.Result)
	if !ok {
		return nil, ErrInvalidResponse
	}

	return result, nil
}

func (mw *proxyMiddleware) Answer(ctx context.Context, question string) (Answer, error) {
	req := AnswerRequest{
		Question: question,
	}

	resp, err := mw.endpoints.Answer(ctx, req)
	if err != nil {
		return Answer{}, err
	}

	answer, ok := resp.(Answer)
	if !ok {
		return Answer{}, ErrInvalidResponse
	}

	return answer, nil
}

func (mw *proxyMiddleware) Describe(ctx context.Context) (vector.Info, error) {
	resp, err := mw.endpoints.Describe(ctx, nil)
	if err != nil {
		return vector.Info{}, err
	}

	info, ok := resp.(vector.Info)
	if !ok {
		return vector.Info{}, ErrInvalidResponse
	}

	return info, nil
}

func (mw *proxyMiddleware) Drop(ctx context.Context) error {
	_, err := mw.endpoints.Drop(ctx, nil)
	return err
}
