package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/AdminTLI/roommatematch-sub010/pkg/apperrors"
	"github.com/AdminTLI/roommatematch-sub010/pkg/config"
	"github.com/AdminTLI/roommatematch-sub010/pkg/events"
	"github.com/AdminTLI/roommatematch-sub010/pkg/metrics"
	"github.com/AdminTLI/roommatematch-sub010/pkg/models"
	"github.com/AdminTLI/roommatematch-sub010/pkg/repositories"
	"github.com/AdminTLI/roommatematch-sub010/pkg/retry"
	"github.com/AdminTLI/roommatematch-sub010/pkg/scoring"
)

// defaultGroupSize is the member count of group suggestions when the request
// does not specify one.
const defaultGroupSize = 3

// GenerationRequest names one cohort batch to generate suggestions for.
type GenerationRequest struct {
	Cohort       []uuid.UUID
	UniversityID *uuid.UUID
	// Kind selects pair or group generation; empty means pair.
	Kind string
	// GroupSize is the member count per group suggestion (group kind only).
	GroupSize int
}

// GenerationResult summarizes one generation run.
type GenerationResult struct {
	RunID        string                    `json:"run_id"`
	Kind         string                    `json:"kind"`
	CohortSize   int                       `json:"cohort_size"`
	Created      []*models.MatchSuggestion `json:"created"`
	Skipped      []string                  `json:"skipped,omitempty"`
	ExperimentID *uuid.UUID                `json:"experiment_id,omitempty"`
}

// CandidateGenerator produces match suggestions for a cohort of users: score
// all viable pairs (or greedily formed groups), keep the best candidates above
// the fit floor, and persist the deduplicated set.
type CandidateGenerator interface {
	Run(ctx context.Context, req GenerationRequest) (*GenerationResult, error)
}

type candidateGenerator struct {
	vectorRepo     repositories.VectorRepository
	suggestionRepo repositories.SuggestionRepository
	blocklistRepo  repositories.BlocklistRepository
	experiments    ExperimentService
	cfg            *config.MatchingConfig
	bus            *events.Bus
	metrics        *metrics.Metrics
	logger         *zap.Logger
	now            func() time.Time
}

func NewCandidateGenerator(
	vectorRepo repositories.VectorRepository,
	suggestionRepo repositories.SuggestionRepository,
	blocklistRepo repositories.BlocklistRepository,
	experiments ExperimentService,
	cfg *config.MatchingConfig,
	bus *events.Bus,
	m *metrics.Metrics,
	logger *zap.Logger,
) CandidateGenerator {
	return &candidateGenerator{
		vectorRepo:     vectorRepo,
		suggestionRepo: suggestionRepo,
		blocklistRepo:  blocklistRepo,
		experiments:    experiments,
		cfg:            cfg,
		bus:            bus,
		metrics:        m,
		logger:         logger.Named("candidate-generator"),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

var _ CandidateGenerator = (*candidateGenerator)(nil)

// candidate is one scored viable member set. Key is the sorted member key.
type candidate struct {
	members  []uuid.UUID
	key      string
	score    float64
	fitIndex int
	variant  string
}

func (g *candidateGenerator) Run(ctx context.Context, req GenerationRequest) (*GenerationResult, error) {
	start := g.now()

	kind, groupSize, err := normalizeRequest(&req)
	if err != nil {
		return nil, err
	}

	cohort := dedupeUsers(req.Cohort)
	if len(cohort) < groupSize {
		return nil, fmt.Errorf("%w: %s cohort requires at least %d users, got %d",
			apperrors.ErrValidation, kind, groupSize, len(cohort))
	}

	result := &GenerationResult{
		RunID:      uuid.New().String(),
		Kind:       kind,
		CohortSize: len(cohort),
	}
	logger := g.logger.With(zap.String("run_id", result.RunID), zap.String("kind", kind))

	eligible, vectors, skipped := g.loadVectors(ctx, cohort, logger)
	result.Skipped = skipped

	blocked, err := g.blocklistRepo.ActiveExclusions(ctx, cohort)
	if err != nil {
		g.metrics.GenerationRuns.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to load blocklist exclusions: %w", err)
	}
	history, err := g.loadHistory(ctx, cohort)
	if err != nil {
		g.metrics.GenerationRuns.WithLabelValues("failed").Inc()
		return nil, err
	}

	variants, engines, experimentID := g.assignVariants(ctx, eligible, req.UniversityID, logger)
	result.ExperimentID = experimentID

	var candidates []candidate
	if kind == models.KindGroup {
		candidates, err = g.buildGroups(ctx, eligible, vectors, blocked, history, groupSize, variants, engines)
	} else {
		candidates, err = g.scorePairs(ctx, eligible, vectors, blocked, history, variants, engines)
	}
	if err != nil {
		g.metrics.GenerationRuns.WithLabelValues("failed").Inc()
		return nil, err
	}

	selected := selectTopK(candidates, g.cfg.TopK, g.cfg.MinFitIndex)
	if err := g.persist(ctx, result, selected, req.UniversityID, experimentID, logger); err != nil {
		g.metrics.GenerationRuns.WithLabelValues("failed").Inc()
		return nil, err
	}

	g.metrics.GenerationRuns.WithLabelValues("ok").Inc()
	g.metrics.GenerationDuration.Observe(g.now().Sub(start).Seconds())
	logger.Info("Generation run completed",
		zap.Int("cohort_size", result.CohortSize),
		zap.Int("eligible", len(eligible)),
		zap.Int("created", len(result.Created)),
		zap.Int("skipped", len(result.Skipped)),
		zap.Duration("elapsed", g.now().Sub(start)))

	return result, nil
}

func normalizeRequest(req *GenerationRequest) (kind string, minCohort int, err error) {
	switch req.Kind {
	case "", models.KindPair:
		return models.KindPair, 2, nil
	case models.KindGroup:
		size := req.GroupSize
		if size == 0 {
			size = defaultGroupSize
		}
		if size < 3 {
			return "", 0, fmt.Errorf("%w: group size must be at least 3, got %d", apperrors.ErrValidation, size)
		}
		req.GroupSize = size
		return models.KindGroup, size, nil
	default:
		return "", 0, fmt.Errorf("%w: unknown generation kind %q", apperrors.ErrValidation, req.Kind)
	}
}

// loadVectors fetches the cohort's vectors and drops users without usable
// signal. A batch read failure degrades to an empty eligible set rather than
// failing the run outright.
func (g *candidateGenerator) loadVectors(ctx context.Context, cohort []uuid.UUID, logger *zap.Logger) ([]uuid.UUID, map[uuid.UUID]*models.PreferenceVector, []string) {
	var skipped []string

	vectors, err := g.vectorRepo.GetBatch(ctx, cohort)
	if err != nil {
		logger.Error("Vector batch load failed, skipping whole cohort", zap.Error(err))
		for _, id := range cohort {
			skipped = append(skipped, fmt.Sprintf("%s: vector load failed", id))
		}
		return nil, nil, skipped
	}

	eligible := make([]uuid.UUID, 0, len(cohort))
	for _, id := range cohort {
		vector, ok := vectors[id]
		switch {
		case !ok:
			skipped = append(skipped, fmt.Sprintf("%s: no vector", id))
		case vector.IsZero():
			skipped = append(skipped, fmt.Sprintf("%s: zero vector", id))
		default:
			eligible = append(eligible, id)
		}
	}

	// Deterministic ordering for scoring, grouping and variant anchoring.
	slices.SortFunc(eligible, func(a, b uuid.UUID) int {
		return slices.Compare(a[:], b[:])
	})
	return eligible, vectors, skipped
}

// loadHistory merges the member keys the run must not propose again: currently
// active suggestions and previously declined sets.
func (g *candidateGenerator) loadHistory(ctx context.Context, cohort []uuid.UUID) (map[string]struct{}, error) {
	history, err := g.suggestionRepo.ActiveMemberKeys(ctx, cohort)
	if err != nil {
		return nil, fmt.Errorf("failed to load active suggestions: %w", err)
	}
	declined, err := g.suggestionRepo.DeclinedMemberKeys(ctx, cohort)
	if err != nil {
		return nil, fmt.Errorf("failed to load declined suggestions: %w", err)
	}
	for key := range declined {
		history[key] = struct{}{}
	}
	return history, nil
}

// assignVariants resolves the running experiment (if any) and assigns every
// eligible user. Experiment failures degrade to the default engine: a broken
// experiment must not stop matching.
func (g *candidateGenerator) assignVariants(ctx context.Context, eligible []uuid.UUID, universityID *uuid.UUID, logger *zap.Logger) (map[uuid.UUID]string, map[string]*scoring.Engine, *uuid.UUID) {
	engines := map[string]*scoring.Engine{"": scoring.NewEngine(nil)}

	experiment, err := g.experiments.ActiveFor(ctx, universityID)
	if err != nil {
		logger.Warn("Experiment lookup failed, scoring with defaults", zap.Error(err))
		return nil, engines, nil
	}
	if experiment == nil {
		return nil, engines, nil
	}

	for _, variant := range experiment.Variants {
		engines[variant.Name] = scoring.NewEngine(variant.Config)
	}

	variants := make(map[uuid.UUID]string, len(eligible))
	for _, userID := range eligible {
		assignment, err := g.experiments.Assign(ctx, experiment, userID)
		if err != nil {
			logger.Warn("Variant assignment failed, using default engine",
				zap.String("user_id", userID.String()),
				zap.Error(err))
			continue
		}
		variants[userID] = assignment.Variant
	}
	return variants, engines, &experiment.ID
}

// scorePairs scores every non-excluded pair on a bounded worker pool. Hard
// dealbreaker conflicts drop a pair before scoring, the same way a blocklist
// entry does. The engine is chosen by the lower-sorted member's variant so a
// pair always scores the same way regardless of traversal order.
func (g *candidateGenerator) scorePairs(
	ctx context.Context,
	eligible []uuid.UUID,
	vectors map[uuid.UUID]*models.PreferenceVector,
	blocked, history map[string]struct{},
	variants map[uuid.UUID]string,
	engines map[string]*scoring.Engine,
) ([]candidate, error) {
	dealbreakers := scoring.DealbreakerDims(g.cfg.DealbreakerKeys)

	var pairs []candidate
	for i := 0; i < len(eligible); i++ {
		for j := i + 1; j < len(eligible); j++ {
			a, b := eligible[i], eligible[j]
			key := models.MemberKey([]uuid.UUID{a, b})
			if _, skip := blocked[key]; skip {
				continue
			}
			if _, skip := history[key]; skip {
				continue
			}
			if scoring.DealbreakerConflict(vectors[a].Dims, vectors[b].Dims, dealbreakers, g.cfg.DealbreakerGap) {
				continue
			}
			pairs = append(pairs, candidate{members: []uuid.UUID{a, b}, key: key, variant: variants[a]})
		}
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(g.cfg.Workers)
	for idx := range pairs {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			pair := &pairs[idx]
			engine, ok := engines[pair.variant]
			if !ok {
				engine = engines[""]
			}
			pair.score = engine.Score(vectors[pair.members[0]].Dims, vectors[pair.members[1]].Dims)
			pair.fitIndex = scoring.FitIndex(pair.score)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("scoring cancelled: %w", err)
	}

	g.metrics.ScorePairs.Add(float64(len(pairs)))
	return pairs, nil
}

// buildGroups forms disjoint groups of the requested size greedily: seed with
// the highest-scoring unused pair, then extend with the unused user whose mean
// score against the current members is highest. Blocklist entries exclude a
// user from any group containing the other side. Groups already proposed or
// declined (by member key) are skipped.
func (g *candidateGenerator) buildGroups(
	ctx context.Context,
	eligible []uuid.UUID,
	vectors map[uuid.UUID]*models.PreferenceVector,
	blocked, history map[string]struct{},
	groupSize int,
	variants map[uuid.UUID]string,
	engines map[string]*scoring.Engine,
) ([]candidate, error) {
	// Pairwise scores feed both seeding and extension; blocklist entries and
	// dealbreaker conflicts exclude pairs here, prior pair suggestions do
	// not preclude grouping.
	pairs, err := g.scorePairs(ctx, eligible, vectors, blocked, map[string]struct{}{}, variants, engines)
	if err != nil {
		return nil, err
	}
	sortCandidates(pairs)

	pairScore := make(map[string]float64, len(pairs))
	for _, p := range pairs {
		pairScore[p.key] = p.score
	}
	compatible := func(a, b uuid.UUID) (float64, bool) {
		score, ok := pairScore[models.MemberKey([]uuid.UUID{a, b})]
		return score, ok
	}

	used := make(map[uuid.UUID]struct{})
	var groups []candidate
	for _, seed := range pairs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a, b := seed.members[0], seed.members[1]
		if _, taken := used[a]; taken {
			continue
		}
		if _, taken := used[b]; taken {
			continue
		}

		members := []uuid.UUID{a, b}
		for len(members) < groupSize {
			next, ok := g.bestExtension(eligible, members, used, compatible)
			if !ok {
				break
			}
			members = append(members, next)
		}
		if len(members) < groupSize {
			continue
		}

		key := models.MemberKey(members)
		if _, skip := history[key]; skip {
			continue
		}

		engine, ok := engines[variants[lowestMember(members)]]
		if !ok {
			engine = engines[""]
		}
		dims := make([][]float64, len(members))
		for i, id := range members {
			dims[i] = vectors[id].Dims
		}
		score := engine.ScoreGroup(dims)

		for _, id := range members {
			used[id] = struct{}{}
		}
		groups = append(groups, candidate{
			members:  members,
			key:      key,
			score:    score,
			fitIndex: scoring.FitIndex(score),
			variant:  variants[lowestMember(members)],
		})
	}
	return groups, nil
}

// bestExtension picks the unused user with the highest mean pairwise score
// against every current member. A user blocked against any member is not a
// candidate.
func (g *candidateGenerator) bestExtension(
	eligible, members []uuid.UUID,
	used map[uuid.UUID]struct{},
	compatible func(a, b uuid.UUID) (float64, bool),
) (uuid.UUID, bool) {
	var best uuid.UUID
	bestScore := -1.0
	found := false

	for _, id := range eligible {
		if _, taken := used[id]; taken {
			continue
		}
		if slices.Contains(members, id) {
			continue
		}

		var total float64
		viable := true
		for _, member := range members {
			score, ok := compatible(id, member)
			if !ok {
				viable = false
				break
			}
			total += score
		}
		if !viable {
			continue
		}

		mean := total / float64(len(members))
		if mean > bestScore {
			best, bestScore, found = id, mean, true
		}
	}
	return best, found
}

func lowestMember(members []uuid.UUID) uuid.UUID {
	return slices.MinFunc(members, func(a, b uuid.UUID) int {
		return slices.Compare(a[:], b[:])
	})
}

// selectTopK greedily picks the best candidates at or above the fit floor,
// capping every user at K suggestions per run. Traversal order is stable:
// score descending, member key ascending on ties, so reruns over the same
// inputs pick the same set.
func selectTopK(candidates []candidate, topK, minFitIndex int) []candidate {
	viable := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.fitIndex >= minFitIndex {
			viable = append(viable, c)
		}
	}
	sortCandidates(viable)

	degree := make(map[uuid.UUID]int)
	var selected []candidate
	for _, c := range viable {
		over := false
		for _, id := range c.members {
			if degree[id] >= topK {
				over = true
				break
			}
		}
		if over {
			continue
		}
		for _, id := range c.members {
			degree[id]++
		}
		selected = append(selected, c)
	}
	return selected
}

func sortCandidates(list []candidate) {
	slices.SortFunc(list, func(x, y candidate) int {
		if x.score != y.score {
			if x.score > y.score {
				return -1
			}
			return 1
		}
		return cmpString(x.key, y.key)
	})
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// persist writes the selected suggestions one at a time in member-key order.
// A uniqueness conflict means a concurrent run already proposed the set;
// that set is skipped, not failed.
func (g *candidateGenerator) persist(ctx context.Context, result *GenerationResult, selected []candidate, universityID, experimentID *uuid.UUID, logger *zap.Logger) error {
	insertOrder := slices.Clone(selected)
	slices.SortFunc(insertOrder, func(x, y candidate) int {
		return cmpString(x.key, y.key)
	})

	expiresAt := g.now().Add(time.Duration(g.cfg.SuggestionTTLHours) * time.Hour)
	for _, c := range insertOrder {
		if err := ctx.Err(); err != nil {
			return err
		}

		suggestion, err := models.NewMatchSuggestion(
			result.RunID, result.Kind, c.members, c.score, c.fitIndex, expiresAt)
		if err != nil {
			return err
		}
		suggestion.Variant = c.variant
		suggestion.ExperimentID = experimentID
		suggestion.UniversityID = universityID
		if g.cfg.AutoMatchThreshold > 0 && c.fitIndex >= g.cfg.AutoMatchThreshold {
			suggestion.AcceptedBy = slices.Clone(suggestion.MemberIDs)
			suggestion.Status = models.StatusConfirmed
		}

		if err := g.suggestionRepo.Create(ctx, suggestion); err != nil {
			if errors.Is(err, apperrors.ErrConflict) {
				result.Skipped = append(result.Skipped, fmt.Sprintf("%s: active suggestion exists", c.key))
				continue
			}
			return err
		}

		result.Created = append(result.Created, suggestion)
		g.metrics.SuggestionsCreated.WithLabelValues(suggestion.Kind, suggestion.Variant).Inc()
		g.bus.Publish(events.Event{
			Type:    events.TypeSuggestionCreated,
			UserIDs: suggestion.MemberIDs,
			Payload: map[string]any{
				"suggestion_id": suggestion.ID.String(),
				"fit_index":     suggestion.FitIndex,
				"run_id":        result.RunID,
			},
		})
	}

	run := &repositories.GenerationRunRecord{
		RunID:        result.RunID,
		Kind:         result.Kind,
		CohortSize:   result.CohortSize,
		CreatedCount: len(result.Created),
		Skipped:      result.Skipped,
	}
	if err := retry.Do(ctx, nil, func() error { return g.suggestionRepo.SaveRun(ctx, run) }); err != nil {
		// The suggestions are already committed; losing the run summary is
		// tolerable.
		logger.Warn("Failed to save run record", zap.Error(err))
	}
	return nil
}

func dedupeUsers(cohort []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(cohort))
	out := make([]uuid.UUID, 0, len(cohort))
	for _, id := range cohort {
		if id == uuid.Nil {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
