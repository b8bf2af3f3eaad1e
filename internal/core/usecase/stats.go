package usecase

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
)

const statisticsWindow = 10000

// Statistics summarises the most recent runs.
func (p *Pipeline) Statistics(ctx context.Context) (domain.Statistics, error) {
	runs, err := p.repo.List(ctx, domain.RunFilter{Limit: statisticsWindow})
	if err != nil {
		return domain.Statistics{}, fmt.Errorf("list runs: %w", err)
	}
	stats := ComputeStatistics(runs)
	stats.CurrentThreshold = p.currentThreshold()
	return stats, nil
}

func ComputeStatistics(runs []domain.PipelineRun) domain.Statistics {
	stats := domain.Statistics{
		TotalRuns:      len(runs),
		ByState:        make(map[domain.RunState]int),
		ByDocumentType: make(map[domain.DocumentType]int),
	}

	var (
		finished, cacheHits, extracted int
		elapsed                        time.Duration
		confidenceSum                  float64
		entries, autoValidated, human  int
	)
	for _, run := range runs {
		stats.ByState[run.State]++
		if run.Analysis != nil {
			stats.ByDocumentType[run.Analysis.DocumentType]++
		}
		if run.Extraction != nil {
			extracted++
			if run.CacheHit {
				cacheHits++
			}
		}
		if run.CompletedAt != nil {
			finished++
			elapsed += run.Elapsed
		}
		if run.Entry != nil {
			entries++
			confidenceSum += run.Entry.Confidence
		}
		if run.Validation != nil {
			if run.Validation.System {
				autoValidated++
			} else {
				human++
			}
		}
	}

	if finished > 0 {
		stats.AverageProcessing = elapsed / time.Duration(finished)
	}
	if entries > 0 {
		stats.AverageConfidence = round2(confidenceSum / float64(entries))
	}
	if decided := autoValidated + human; decided > 0 {
		stats.AutoValidationRate = round2(float64(autoValidated) / float64(decided) * 100)
		stats.HumanValidationRate = round2(float64(human) / float64(decided) * 100)
	}
	if extracted > 0 {
		stats.CacheHitRate = round2(float64(cacheHits) / float64(extracted) * 100)
	}
	return stats
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
