package ragblade

import (
	"context"

	"go.uber.org/zap"

	"github.com/flarexio/ragblade/rag"
	"github.com/flarexio/ragblade/vector"
)

func LoggingMiddleware(log *zap.Logger) ServiceMiddleware {
	log = log.With(
		zap.String("service", "ragblade"),
	)

	return func(next Service) Service {
		log.Info("service initialized")

		return &loggingMiddleware{
			log:  log,
			next: next,
		}
	}
}

type loggingMiddleware struct {
	log  *zap.Logger
	next Service
}

func (mw *loggingMiddleware) Close() error {
	log := mw.log.With(
		zap.String("action", "close"),
	)

	err := mw.next.Close()
	if err != nil {
		log.Error(err.Error())
		return err
	}

	log.Info("service closed")
	return nil
}

func (mw *loggingMiddleware) Ingest(ctx context.Context, docs []rag.Document) (IngestReport, error) {
	log := mw.log.With(
		zap.String("action", "ingest"),
		zap.Int("documents", len(docs)),
	)

	report, err := mw.next.Ingest(ctx, docs)
	if err != nil {
		if stage, ok := rag.StageOf(err); ok {
			log = log.With(zap.String("stage", string(stage)))
		}

		log.Error(err.Error(), zap.String("run_id", report.RunID))
		return report, err
	}

	log.Info("documents ingested",
		zap.String("run_id", report.RunID),
		zap.Int("fragments", report.Fragments),
		zap.Uint64("generation", report.Generation),
		zap.Duration("duration", report.Duration.Duration()),
	)

	return report, nil
}

func (mw *loggingMiddleware) Search(ctx context.Context, query string, k int, filter vector.Filter) (vector.Result, error) {
	log := mw.log.With(
		zap.String("action", "search"),
		zap.String("query", query),
	)

	if k > 0 {
		log = log.With(
			zap.Int("k", k),
		)
	}

	result, err := mw.next.Search(ctx, query, k, filter)
	if err != nil {
		log.Error(err.Error())
		return nil, err
	}

	log.Info("fragments searched", zap.Int("count", len(result)))
	return result, nil
}

func (mw *loggingMiddleware) Answer(ctx context.Context, question string) (Answer, error) {
	log := mw.log.With(
		zap.String("action", "answer"),
		zap.String("question", question),
	)

	answer, err := mw.next.Answer(ctx, question)
	if err != nil {
		if stage, ok := rag.StageOf(err); ok {
			log = log.With(zap.String("stage", string(stage)))
		}

		log.Error(err.Error())
		return Answer{}, err
	}

	log.Info("question answered",
		zap.Strings("fragments", answer.Fragments),
		zap.Int("context_units", answer.Units),
		zap.Bool("grounded", answer.Grounded()),
	)

	return answer, nil
}

func (mw *loggingMiddleware) Describe(ctx context.Context) (vector.Info, error) {
	log := mw.log.With(
		zap.String("action", "describe"),
	)

	info, err := mw.next.Describe(ctx)
	if err != nil {
		log.Error(err.Error())
		return vector.Info{}, err
	}

	log.Info("collection described",
		zap.String("collection", info.Name),
		zap.Uint64("generation", info.Generation),
		zap.Int("count", info.Count),
	)

	return info, nil
}

func (mw *loggingMiddleware) Drop(ctx context.Context) error {
	log := mw.log.With(
		zap.String("action", "drop"),
	)

	err := mw.next.Drop(ctx)
	if err != nil {
		log.Error(err.Error())
		return err
	}

	log.Info("collection dropped")
	return nil
}
