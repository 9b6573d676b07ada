package genai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Fallback strings returned when a text operation cannot produce an answer.
const (
	FastEmpty      = "No recommendation available."
	FastOffline    = "Quick analysis offline."
	DeepEmpty      = "Strategic analysis failed."
	DeepOffline    = "Strategic brain is currently offline."
	SearchEmpty    = "No results found."
	SearchOffline  = "Search services unavailable."
	LocalOffline   = "Location services unavailable."
	ChatEmpty      = "Transmission error. Please re-verify query."
	ChatOffline    = "Secure connection interrupted. Please try again."
	ChatWelcome    = "Welcome to American Iron Intelligence. How can I assist with your fleet or procurement needs today?"
	PartsEmpty     = "Part lookup unavailable."
	PartsOffline   = "Database under maintenance."
	defaultImgSize = "1K"
)

// Config selects models and timing for the Assistant.
type Config struct {
	FastModel   string
	DeepModel   string
	ImageModel  string
	VideoModel  string
	SearchModel string
	MapsModel   string
	ChatModel   string
	PartsModel  string

	DeepThinkingBudget int

	ChatSystemPrompt string

	// PollInterval is the delay between video status polls.
	PollInterval time.Duration
	// MaxPollAttempts bounds video polling. Zero means 60.
	MaxPollAttempts int
	// LocateTimeout bounds the Locator call in LocalServiceSearch.
	LocateTimeout time.Duration
}

// DefaultConfig returns the production model selection.
func DefaultConfig() Config {
	return Config{
		FastModel:          "gemini-2.5-flash-lite-latest",
		DeepModel:          "gemini-3-pro-preview",
		ImageModel:         "gemini-3-pro-image-preview",
		VideoModel:         "veo-3.1-fast-generate-preview",
		SearchModel:        "gemini-3-flash-preview",
		MapsModel:          "gemini-2.5-flash",
		ChatModel:          "gemini-3-pro-preview",
		PartsModel:         "gemini-3-flash-preview",
		DeepThinkingBudget: 32768,
		ChatSystemPrompt: "You are the American Iron Intelligence assistant, a heavy equipment fleet and procurement expert for American Iron LLC. " +
			"Answer concisely and technically. Recommend contacting sales for pricing and availability.",
		PollInterval:    5 * time.Second,
		MaxPollAttempts: 60,
		LocateTimeout:   5 * time.Second,
	}
}

// Option configures an Assistant.
type Option func(*Assistant)

// WithCredentialChecker sets the pre-flight used by media operations.
func WithCredentialChecker(c CredentialChecker) Option {
	return func(a *Assistant) { a.creds = c }
}

// Assistant is the generative AI façade used by the UI.
type Assistant struct {
	provider Provider
	creds    CredentialChecker
	cfg      Config
	logger   *otelzap.Logger
}

// NewAssistant creates an Assistant. Zero fields in cfg take DefaultConfig
// values.
func NewAssistant(provider Provider, cfg Config, logger *otelzap.Logger, opts ...Option) *Assistant {
	def := DefaultConfig()
	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&cfg.FastModel, def.FastModel)
	fill(&cfg.DeepModel, def.DeepModel)
	fill(&cfg.ImageModel, def.ImageModel)
	fill(&cfg.VideoModel, def.VideoModel)
	fill(&cfg.SearchModel, def.SearchModel)
	fill(&cfg.MapsModel, def.MapsModel)
	fill(&cfg.ChatModel, def.ChatModel)
	fill(&cfg.PartsModel, def.PartsModel)
	fill(&cfg.ChatSystemPrompt, def.ChatSystemPrompt)
	if cfg.DeepThinkingBudget == 0 {
		cfg.DeepThinkingBudget = def.DeepThinkingBudget
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxPollAttempts <= 0 {
		cfg.MaxPollAttempts = def.MaxPollAttempts
	}
	if cfg.LocateTimeout <= 0 {
		cfg.LocateTimeout = def.LocateTimeout
	}

	a := &Assistant{provider: provider, cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ============================================================================
// Text
// ============================================================================

// FastAnswer returns a short advisory answer. It never fails.
func (a *Assistant) FastAnswer(ctx context.Context, prompt string) string {
	text, err := call(func() (string, error) {
		return a.provider.GenerateText(ctx, TextRequest{
			Model:  a.cfg.FastModel,
			Prompt: fmt.Sprintf("You are a fast-response fleet assistant for American Iron LLC. Briefly advise on: %q. Keep it under 3 sentences.", prompt),
		})
	})
	return a.orFallback(ctx, "fast_answer", text, err, FastEmpty, FastOffline)
}

// DeepAnalysis returns a long-form analysis using an extended reasoning
// budget. It never fails.
func (a *Assistant) DeepAnalysis(ctx context.Context, prompt string) string {
	text, err := call(func() (string, error) {
		return a.provider.GenerateText(ctx, TextRequest{
			Model: a.cfg.DeepModel,
			Prompt: fmt.Sprintf("Analyze this complex heavy equipment fleet strategy or maintenance scenario for American Iron LLC: %q. "+
				"Provide a detailed, multi-step technical analysis and strategic roadmap.", prompt),
			ThinkingBudget: a.cfg.DeepThinkingBudget,
		})
	})
	return a.orFallback(ctx, "deep_analysis", text, err, DeepEmpty, DeepOffline)
}

// RecommendParts answers a parts lookup with application details. It never
// fails.
func (a *Assistant) RecommendParts(ctx context.Context, query string) string {
	text, err := call(func() (string, error) {
		return a.provider.GenerateText(ctx, TextRequest{
			Model:  a.cfg.PartsModel,
			Prompt: fmt.Sprintf("Expert parts assistant search: %q. Provide technical application details.", query),
		})
	})
	return a.orFallback(ctx, "recommend_parts", text, err, PartsEmpty, PartsOffline)
}

// ============================================================================
// Search
// ============================================================================

// GroundedSearch answers query with web citations. On failure it returns a
// fallback text and no sources.
func (a *Assistant) GroundedSearch(ctx context.Context, query string) Grounded {
	res, err := call(func() (*Grounded, error) {
		return a.provider.Search(ctx, SearchRequest{
			Model: a.cfg.SearchModel,
			Query: query,
			Tool:  SearchWeb,
		})
	})
	return a.groundedOrFallback(ctx, "grounded_search", res, err, SearchOffline)
}

// LocalServiceSearch finds service centers, dealers and rental yards near the
// caller. A failing or slow locator does not block the search; it runs
// without coordinates.
func (a *Assistant) LocalServiceSearch(ctx context.Context, query string, locator Locator) Grounded {
	var loc *LatLng
	if locator != nil {
		lctx, cancel := context.WithTimeout(ctx, a.cfg.LocateTimeout)
		ll, err := call(func() (LatLng, error) { return locator.Locate(lctx) })
		cancel()
		if err != nil {
			a.logger.Ctx(ctx).Info("location unavailable, searching without coordinates", zap.Error(err))
		} else {
			loc = &ll
		}
	}

	res, err := call(func() (*Grounded, error) {
		return a.provider.Search(ctx, SearchRequest{
			Model: a.cfg.MapsModel,
			Query: fmt.Sprintf("Find heavy equipment service centers, parts dealers, or rental yards related to: %q. "+
				"Provide contact info and location highlights.", query),
			Tool:     SearchMaps,
			Location: loc,
		})
	})
	return a.groundedOrFallback(ctx, "local_service_search", res, err, LocalOffline)
}

// ============================================================================
// Media
// ============================================================================

// GenerateImage renders an image for prompt. aspect is e.g. "16:9"; size
// defaults to "1K".
func (a *Assistant) GenerateImage(ctx context.Context, prompt, aspect, size string) (*Image, error) {
	if err := a.preflight(ctx); err != nil {
		return nil, err
	}
	if size == "" {
		size = defaultImgSize
	}
	img, err := call(func() (*Image, error) {
		return a.provider.GenerateImage(ctx, ImageRequest{
			Model: a.cfg.ImageModel,
			Prompt: fmt.Sprintf("High-quality industrial photography for American Iron LLC: %s. "+
				"Professional, cinematic construction site lighting, realistic detail.", prompt),
			AspectRatio: aspect,
			Size:        size,
		})
	})
	return a.imageResult(ctx, "generate_image", img, err)
}

// EditImage applies instruction to src.
func (a *Assistant) EditImage(ctx context.Context, src Image, instruction string) (*Image, error) {
	if err := a.preflight(ctx); err != nil {
		return nil, err
	}
	img, err := call(func() (*Image, error) {
		return a.provider.EditImage(ctx, EditRequest{
			Model:       a.cfg.ImageModel,
			Source:      src,
			Instruction: instruction,
		})
	})
	return a.imageResult(ctx, "edit_image", img, err)
}

// AnimateImage turns src into a short video. It polls the provider every
// PollInterval until the operation completes, ctx is done, or
// MaxPollAttempts polls have been made.
func (a *Assistant) AnimateImage(ctx context.Context, src Image, prompt, aspect string) (*Video, error) {
	if err := a.preflight(ctx); err != nil {
		return nil, err
	}
	log := a.logger.Ctx(ctx)

	op, err := call(func() (Operation, error) {
		return a.provider.StartVideo(ctx, VideoRequest{
			Model:       a.cfg.VideoModel,
			Source:      src,
			Prompt:      prompt,
			AspectRatio: aspect,
		})
	})
	if err != nil {
		log.Error("video generation failed to start", zap.Error(err))
		return nil, fmt.Errorf("start video: %w", err)
	}

	timer := time.NewTimer(a.cfg.PollInterval)
	defer timer.Stop()

	for attempt := 1; attempt <= a.cfg.MaxPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		st, err := call(func() (*OperationStatus, error) { return a.provider.PollVideo(ctx, op) })
		if err != nil {
			log.Error("video poll failed", zap.String("operation", op.Name), zap.Int("attempt", attempt), zap.Error(err))
			return nil, fmt.Errorf("poll video: %w", err)
		}
		if st == nil {
			log.Error("video poll returned no status", zap.String("operation", op.Name), zap.Int("attempt", attempt))
			return nil, errors.New("poll video: empty status")
		}
		if st.Done {
			if st.Error != "" {
				return nil, fmt.Errorf("video operation %s: %s", op.Name, st.Error)
			}
			if st.VideoURI == "" {
				return nil, fmt.Errorf("video operation %s finished without output", op.Name)
			}
			video, err := call(func() (*Video, error) { return a.provider.DownloadVideo(ctx, st.VideoURI) })
			if err != nil {
				return nil, fmt.Errorf("download video: %w", err)
			}
			log.Info("video generated", zap.String("operation", op.Name), zap.Int("polls", attempt))
			return video, nil
		}
		timer.Reset(a.cfg.PollInterval)
	}

	log.Warn("video generation exceeded poll limit",
		zap.String("operation", op.Name),
		zap.Int("max_attempts", a.cfg.MaxPollAttempts),
	)
	return nil, ErrPollLimit
}

// ============================================================================
// Helpers
// ============================================================================

func (a *Assistant) preflight(ctx context.Context) error {
	if a.creds == nil {
		return nil
	}
	ok, err := a.creds.HasCredential(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAuthorizationRequired, err)
	}
	if !ok {
		return ErrAuthorizationRequired
	}
	return nil
}

func (a *Assistant) orFallback(ctx context.Context, op, text string, err error, empty, offline string) string {
	if err != nil {
		a.logger.Ctx(ctx).Error("generative request failed", zap.String("operation", op), zap.Error(err))
		return offline
	}
	if text == "" {
		return empty
	}
	return text
}

func (a *Assistant) groundedOrFallback(ctx context.Context, op string, res *Grounded, err error, offline string) Grounded {
	if err != nil {
		a.logger.Ctx(ctx).Error("grounded search failed", zap.String("operation", op), zap.Error(err))
		return Grounded{Text: offline, Sources: []Source{}}
	}
	if res == nil {
		return Grounded{Text: SearchEmpty, Sources: []Source{}}
	}
	out := *res
	if out.Text == "" {
		out.Text = SearchEmpty
	}
	if out.Sources == nil {
		out.Sources = []Source{}
	}
	return out
}

func (a *Assistant) imageResult(ctx context.Context, op string, img *Image, err error) (*Image, error) {
	if err != nil {
		a.logger.Ctx(ctx).Error("image request failed", zap.String("operation", op), zap.Error(err))
		return nil, err
	}
	if img == nil || len(img.Data) == 0 {
		return nil, ErrNoImage
	}
	return img, nil
}

// call runs fn and converts a panic into a *ProviderPanic error.
func call[T any](fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			v, err = zero, &ProviderPanic{Value: r}
		}
	}()
	return fn()
}

// IsPanic reports whether err came from a recovered provider panic.
func IsPanic(err error) bool {
	var p *ProviderPanic
	return errors.As(err, &p)
}
