package guard

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// ProfileStore is the external configuration collaborator. Snapshot
// returns an immutable view of the active guard profiles and the
// compiled pattern registry; the view must not change for the duration
// of one masking transaction.
type ProfileStore interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// Completion is the language-model collaborator's answer plus its usage
// accounting.
type Completion struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// LanguageModel is the external LLM collaborator. The call is
// cancellable and time-bounded through the context; a failure abandons
// the transaction without corrupting or leaking the token map.
type LanguageModel interface {
	Complete(ctx context.Context, text string) (Completion, error)
}

// FinalizeResult is the outcome of a successful finalize: the restored
// text plus the usage metadata supplied by the model collaborator.
type FinalizeResult struct {
	Unmasked         string `json:"unmasked"`
	LLMResponse      string `json:"llm_response"`
	Model            string `json:"model,omitempty"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	MaskedTokenCount int    `json:"masked_token_count"`
}

// Service wires the detection pipeline into the two transaction-level
// operations, mask and finalize. Each transaction owns its token map
// exclusively from mint to discard; the only process-wide shared state
// is the read-only pattern registry inside the profile snapshot.
type Service struct {
	store     ProfileStore
	entity    Detector
	model     LanguageModel
	tokenizer *Tokenizer
	merger    *Merger
	logger    *zap.Logger
}

// NewService creates the masking service.
func NewService(store ProfileStore, entity Detector, model LanguageModel, tokenizer *Tokenizer, logger *zap.Logger) *Service {
	return &Service{
		store:     store,
		entity:    entity,
		model:     model,
		tokenizer: tokenizer,
		merger:    NewMerger(logger),
		logger:    logger,
	}
}

// Mask runs detection, merging and tokenization over the field
// configuration currently active for guardType. The two detectors run
// concurrently; they only read the text and disjoint configuration
// slices.
func (s *Service) Mask(ctx context.Context, text, guardType string) (*MaskedDocument, error) {
	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, &UpstreamError{Op: "loading guard configuration", Err: err}
	}
	prof, ok := snap.Profiles[guardType]
	if !ok {
		return nil, &UnknownGuardTypeError{Name: guardType}
	}

	fields := make([]FieldConfig, len(prof.Fields))
	copy(fields, prof.Fields)

	regexDet := NewRegexDetector(snap.Registry, s.logger)

	var (
		wg                           sync.WaitGroup
		regexMatches, entityMatches  []Match
		regexWarnings, entityWarning []Warning
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		regexMatches, regexWarnings = regexDet.Detect(ctx, text, fields)
	}()
	go func() {
		defer wg.Done()
		entityMatches, entityWarning = s.entity.Detect(ctx, text, fields)
	}()
	wg.Wait()

	candidates := make([]Match, 0, len(regexMatches)+len(entityMatches))
	candidates = append(candidates, regexMatches...)
	candidates = append(candidates, entityMatches...)

	merged := s.merger.Merge(len(text), candidates, fields)

	doc, err := s.tokenizer.Tokenize(text, guardType, merged)
	if err != nil {
		return nil, err
	}
	doc.Warnings = append(doc.Warnings, regexWarnings...)
	doc.Warnings = append(doc.Warnings, entityWarning...)

	s.logger.Info("Document masked",
		zap.String("guard_type", guardType),
		zap.Int("candidates", len(candidates)),
		zap.Int("masked_spans", len(merged)),
		zap.Int("tokens", doc.Tokens.Len()),
		zap.Int("warnings", len(doc.Warnings)),
	)

	return doc, nil
}

// Finalize gates the reviewer-edited masked text through the integrity
// check, forwards the approved text to the language-model collaborator,
// and restores the original values into its response. On an integrity
// violation it returns an *IntegrityError and makes no external call.
func (s *Service) Finalize(ctx context.Context, guardType, maskedText string, tokens *TokenMap) (*FinalizeResult, error) {
	verdict := Verify(tokens, maskedText)
	if !verdict.OK {
		s.logger.Warn("Integrity gate rejected edited text",
			zap.String("guard_type", guardType),
			zap.Int("missing", len(verdict.Missing)),
			zap.Int("unknown", len(verdict.Unknown)),
		)
		return nil, &IntegrityError{Missing: verdict.Missing, Unknown: verdict.Unknown}
	}

	completion, err := s.model.Complete(ctx, maskedText)
	if err != nil {
		return nil, &UpstreamError{Op: "language model call", Err: err}
	}

	return &FinalizeResult{
		Unmasked:         Detokenize(completion.Content, tokens),
		LLMResponse:      completion.Content,
		Model:            completion.Model,
		PromptTokens:     completion.PromptTokens,
		CompletionTokens: completion.CompletionTokens,
		TotalTokens:      completion.PromptTokens + completion.CompletionTokens,
		MaskedTokenCount: tokens.Len(),
	}, nil
}

// ProcessResult is the combined one-shot payload: mask, model call and
// restore in a single transaction without a review step.
type ProcessResult struct {
	Document *MaskedDocument
	Final    *FinalizeResult
}

// Process runs mask and finalize back to back on the unedited masked
// text. The integrity gate trivially passes since nothing was edited.
func (s *Service) Process(ctx context.Context, text, guardType string) (*ProcessResult, error) {
	doc, err := s.Mask(ctx, text, guardType)
	if err != nil {
		return nil, err
	}
	final, err := s.Finalize(ctx, guardType, doc.Masked, doc.Tokens)
	if err != nil {
		return nil, err
	}
	return &ProcessResult{Document: doc, Final: final}, nil
}
