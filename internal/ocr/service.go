package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-local/internal/logger"
	"github.com/custodia-labs/sercha-local/internal/registry"
)

var log = logger.ForComponent(logger.CompOCR)

// DefaultMinConfidence is the confidence at which no fallback pass runs.
const DefaultMinConfidence = 60

// NewRegistry returns an empty provider registry.
func NewRegistry() *registry.Registry[driven.OCRProvider] {
	return registry.New[driven.OCRProvider]("ocr provider")
}

// Config configures the Service.
type Config struct {
	// Languages are the default language codes.
	Languages []string

	// MinConfidence stops fallback passes once a region reaches it.
	MinConfidence float64

	// Concurrency is the number of jobs run at once.
	Concurrency int
}

// Service recognises document regions. It implements driven.OCRService.
type Service struct {
	providers *registry.Registry[driven.OCRProvider]
	detector  *Detector
	queue     *Queue
	events    driven.EventPublisher
	minConf   float64
}

// NewService creates an OCR service. events may be nil.
func NewService(providers *registry.Registry[driven.OCRProvider], cfg Config, events driven.EventPublisher) *Service {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = DefaultMinConfidence
	}
	return &Service{
		providers: providers,
		detector:  NewDetector(cfg.Languages),
		queue:     NewQueue(cfg.Concurrency),
		events:    events,
		minConf:   cfg.MinConfidence,
	}
}

// Provider returns the highest priority provider for kind.
func (s *Service) Provider(kind domain.OCRSourceKind) (driven.OCRProvider, error) {
	p, ok := s.providers.Select(func(p driven.OCRProvider) bool {
		return slices.Contains(p.Kinds(), kind)
	})
	if !ok {
		return nil, fmt.Errorf("no %s provider: %w", kind, domain.ErrOCRFailure)
	}
	return p, nil
}

// Recognize runs the request through the queue. Each region is
// recognised separately so that one bad page does not sink the others.
// The returned result always lists every region; it is accompanied by
// an error wrapping domain.ErrOCRFailure when no region succeeded.
func (s *Service) Recognize(ctx context.Context, correlationID string, req domain.OCRRequest) (*domain.OCRResult, error) {
	provider, err := s.Provider(req.Kind)
	if err != nil {
		return nil, err
	}
	regions := req.Regions
	if len(regions) == 0 {
		regions = []domain.OCRRegion{{Page: 1}}
	}
	plan := [][]string{req.Languages}
	if len(req.Languages) == 0 {
		plan = s.detector.Plan(req.Hint)
	}

	res, err := s.queue.Do(ctx, func(ctx context.Context) (*domain.OCRResult, error) {
		var passes []*domain.OCRResult
		for i, region := range regions {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			passes = append(passes, s.recognizeRegion(ctx, provider, req, region, plan)...)
			s.publish(correlationID, req.Path, domain.Progress{Processed: i + 1, Total: len(regions), Page: region.Page})
		}
		return Merge(passes...), nil
	})
	if err != nil {
		s.publishError(correlationID, req.Path, err)
		return nil, fmt.Errorf("%w: %v", domain.ErrOCRFailure, err)
	}

	if Succeeded(res) == 0 {
		err := fmt.Errorf("%w: no region of %s recognised", domain.ErrOCRFailure, req.Path)
		s.publishError(correlationID, req.Path, err)
		return res, err
	}
	return res, nil
}

// recognizeRegion runs the language plan for one region until a pass is
// confident enough.
func (s *Service) recognizeRegion(ctx context.Context, p driven.OCRProvider, req domain.OCRRequest,
	region domain.OCRRegion, plan [][]string) []*domain.OCRResult {
	var passes []*domain.OCRResult
	for _, langs := range plan {
		start := time.Now()
		out, err := p.Recognize(ctx, domain.OCRRequest{
			Path:      req.Path,
			Kind:      req.Kind,
			Regions:   []domain.OCRRegion{region},
			Languages: langs,
		})
		if err != nil {
			log.Warn("ocr_pass_failed",
				slog.String("path", req.Path),
				slog.Int("page", region.Page),
				slog.Any("languages", langs),
				slog.String("error", err.Error()))
			passes = append(passes, &domain.OCRResult{Regions: []domain.OCRRegionResult{
				{Region: region, Languages: langs, Err: err.Error()},
			}})
			continue
		}
		passes = append(passes, out)

		best := Merge(passes...)
		log.Debug("ocr_pass",
			slog.String("path", req.Path),
			slog.Int("page", region.Page),
			slog.Any("languages", langs),
			slog.Duration("took", time.Since(start)))
		if len(best.Regions) > 0 && best.Regions[0].Err == "" && best.Regions[0].Confidence >= s.minConf {
			break
		}
	}
	return passes
}

func (s *Service) publish(correlationID, path string, p domain.Progress) {
	if s.events == nil {
		return
	}
	s.events.Publish(domain.Event{
		Name:          domain.EventOCRProgress,
		CorrelationID: correlationID,
		Path:          path,
		Stage:         domain.StageOCR,
		Progress:      &p,
		Time:          time.Now(),
	})
}

func (s *Service) publishError(correlationID, path string, err error) {
	if s.events == nil {
		return
	}
	s.events.Publish(domain.Event{
		Name:          domain.EventOCRError,
		CorrelationID: correlationID,
		Path:          path,
		Stage:         domain.StageOCR,
		Error:         err.Error(),
		Time:          time.Now(),
	})
}

// Close drains the queue.
func (s *Service) Close() {
	s.queue.Close()
}

var _ driven.OCRService = (*Service)(nil)
