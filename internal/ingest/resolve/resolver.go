package resolve

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/graphport-backend/internal/ingest/csvfile"
	"github.com/yungbote/graphport-backend/internal/pkg/logger"
)

const (
	sampleRowLimit = 5
	maxSampleIDs   = 10
)

// Strategy names, in precedence order. Fallback is a best-effort default with
// no supporting signal; callers surface it as a low-confidence warning.
const (
	StrategyDeclared    = "declared"
	StrategyPattern     = "pattern"
	StrategySingleLabel = "single-label"
	StrategySampling    = "sampling"
	StrategyFallback    = "fallback"
)

// Prober checks whether a node with the given identifier exists under a
// label, scoped to a dataset. Satisfied by graph.Store.
type Prober interface {
	NodeExists(ctx context.Context, label, idKey string, id any, datasetID string) (bool, error)
}

type Input struct {
	RelationshipType string
	DeclaredSource   string
	DeclaredTarget   string
	KnownLabels      []string
	DatasetID        string

	// Sample rows plus the actual source/target column names for id sampling.
	Rows         []csvfile.Row
	SourceColumn string
	TargetColumn string
}

type Resolution struct {
	Source   string
	Target   string
	Strategy string
}

// NotAvailableError is the fatal case: a header declared a label whose entity
// file has not been ingested into the dataset.
type NotAvailableError struct {
	Labels []string
}

func (e *NotAvailableError) Error() string {
	return fmt.Sprintf("%s node(s) not available in dataset. Please upload the corresponding node file(s) first.",
		strings.Join(e.Labels, ", "))
}

// Resolve determines the source and target entity labels for a relationship
// file. Strategies run in fixed precedence; each is tried only if the
// previous produced no usable pair. An explicit header declaration always
// wins and is never second-guessed.
func Resolve(ctx context.Context, in Input, prober Prober, log *logger.Logger) (Resolution, error) {
	if len(in.KnownLabels) == 0 {
		return Resolution{}, fmt.Errorf("no node labels available in dataset; upload entity files first")
	}
	known := make(map[string]bool, len(in.KnownLabels))
	for _, l := range in.KnownLabels {
		known[l] = true
	}

	// Strategy 1: header-declared labels. A declared but unknown label is a
	// fatal error, not a fallback trigger.
	source, target := in.DeclaredSource, in.DeclaredTarget
	if source != "" || target != "" {
		var missing []string
		if source != "" && !known[source] {
			missing = append(missing, source)
		}
		if target != "" && !known[target] && target != source {
			missing = append(missing, target)
		}
		if len(missing) > 0 {
			return Resolution{}, &NotAvailableError{Labels: missing}
		}
		if source != "" && target != "" {
			return Resolution{Source: source, Target: target, Strategy: StrategyDeclared}, nil
		}
	}

	// Strategy 2: name-pattern inference, only when nothing is pinned yet.
	if source == "" && target == "" {
		if ps, pt, ok := inferFromPattern(in.RelationshipType, known); ok {
			log.Info("Inferred labels from relationship type",
				"relationship_type", in.RelationshipType, "source", ps, "target", pt)
			return Resolution{Source: ps, Target: pt, Strategy: StrategyPattern}, nil
		}
	}

	// Strategy 3: single known label serves both ends.
	if len(in.KnownLabels) == 1 {
		only := in.KnownLabels[0]
		if source == "" {
			source = only
		}
		if target == "" {
			target = only
		}
		return Resolution{Source: source, Target: target, Strategy: StrategySingleLabel}, nil
	}

	// Strategy 4: probe sampled ids against every known label and take the
	// label with the most hits, independently per side. A failed store call is
	// an infrastructure error, not an inference miss.
	sampled := false
	if source == "" {
		ids := sampleIDs(in.Rows, in.SourceColumn)
		best, err := probeBestLabel(ctx, prober, in.KnownLabels, ids, in.DatasetID)
		if err != nil {
			return Resolution{}, fmt.Errorf("probe source labels: %w", err)
		}
		if best != "" {
			log.Info("Determined source label from ID matching", "source", best)
			source = best
			sampled = true
		}
	}
	if target == "" {
		ids := sampleIDs(in.Rows, in.TargetColumn)
		best, err := probeBestLabel(ctx, prober, in.KnownLabels, ids, in.DatasetID)
		if err != nil {
			return Resolution{}, fmt.Errorf("probe target labels: %w", err)
		}
		if best != "" {
			log.Info("Determined target label from ID matching", "target", best)
			target = best
			sampled = true
		}
	}
	if sampled && source != "" && target != "" {
		return Resolution{Source: source, Target: target, Strategy: StrategySampling}, nil
	}

	// Final heuristic defaults: first known label for source, a different
	// label for target when more than one exists.
	if source == "" {
		source = in.KnownLabels[0]
		log.Warn("Could not determine source label, using fallback", "source", source)
	}
	if target == "" {
		target = in.KnownLabels[0]
		for _, l := range in.KnownLabels {
			if l != source {
				target = l
				break
			}
		}
		log.Warn("Could not determine target label, using fallback", "target", target)
	}
	return Resolution{Source: source, Target: target, Strategy: StrategyFallback}, nil
}

func inferFromPattern(relType string, known map[string]bool) (string, string, bool) {
	if relType == "" {
		return "", "", false
	}
	upper := strings.ToUpper(relType)
	for _, p := range RelationshipPatterns {
		if !strings.Contains(upper, p.Match) {
			continue
		}
		if known[p.Source] && known[p.Target] {
			return p.Source, p.Target, true
		}
		if s, t, ok := tryAliases(p.Source, p.Target, known); ok {
			return s, t, ok
		}
	}
	return "", "", false
}

func tryAliases(source, target string, known map[string]bool) (string, string, bool) {
	resolveOne := func(label string) (string, bool) {
		if known[label] {
			return label, true
		}
		for _, alias := range labelAliases[label] {
			if known[alias] {
				return alias, true
			}
		}
		return "", false
	}
	s, ok := resolveOne(source)
	if !ok {
		return "", "", false
	}
	t, ok := resolveOne(target)
	if !ok {
		return "", "", false
	}
	return s, t, true
}

// sampleIDs collects up to maxSampleIDs distinct identifier values from the
// first sampleRowLimit data rows.
func sampleIDs(rows []csvfile.Row, column string) []any {
	if column == "" {
		return nil
	}
	seen := make(map[string]bool)
	var ids []any
	limit := sampleRowLimit
	if len(rows) < limit {
		limit = len(rows)
	}
	for _, row := range rows[:limit] {
		v := strings.TrimSpace(row[column])
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		ids = append(ids, csvfile.CoerceIdentifier(v))
		if len(ids) == maxSampleIDs {
			break
		}
	}
	return ids
}

func probeBestLabel(ctx context.Context, prober Prober, labels []string, ids []any, datasetID string) (string, error) {
	if prober == nil || len(ids) == 0 {
		return "", nil
	}
	counts := make(map[string]int, len(labels))
	for _, id := range ids {
		for _, label := range labels {
			exists, err := prober.NodeExists(ctx, label, "id", id, datasetID)
			if err != nil {
				return "", err
			}
			if exists {
				counts[label]++
			}
		}
	}
	best, bestCount := "", 0
	tied := false
	for _, label := range labels {
		c := counts[label]
		if c > bestCount {
			best, bestCount = label, c
			tied = false
		} else if c == bestCount && c > 0 && label != best {
			tied = true
		}
	}
	if bestCount == 0 || tied {
		return "", nil
	}
	return best, nil
}
