package feature

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/DoyleJ11/livesync/internal/cache"
	"github.com/DoyleJ11/livesync/internal/reconcile"
	"github.com/DoyleJ11/livesync/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/text/language"
)

var ErrBadLanguage = errors.New("unknown target language")

type SubtitlesSnapshot struct {
	Status Status
	Lines  []types.SubtitleLine
}

// Subtitles follows live captions and translates them on demand. Each
// (text, target) pair is fetched at most once at a time and remembered
// until evicted.
type Subtitles struct {
	base
	translations *cache.Loader[string]

	mu    sync.RWMutex
	lines []types.SubtitleLine
}

func NewSubtitles(ch Channel, opts Options) *Subtitles {
	s := &Subtitles{}
	s.init("subtitles", ch, opts)
	s.translations = cache.NewLoader[string](s.opts.CacheCapacity)
	s.on(types.EvtSubtitleLine, s.onLine)
	return s
}

func (s *Subtitles) Snapshot() SubtitlesSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SubtitlesSnapshot{Status: statusOf(s.ch), Lines: slices.Clone(s.lines)}
}

// Translate returns text in lang. Equivalent language spellings such as
// "pt-br" and "pt-BR" share a cache entry.
func (s *Subtitles) Translate(ctx context.Context, text, lang string) (string, error) {
	if s.isClosed() {
		return "", ErrFeatureClosed
	}
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return "", fmt.Errorf("%w %q: %v", ErrBadLanguage, lang, err)
	}
	target := tag.String()

	out, shared, err := s.translations.Load(ctx, cache.Key(text, target), func(ctx context.Context) (string, error) {
		reply, err := s.ch.Call(ctx, types.EvtSubtitleTranslate, types.TranslateRequest{Text: text, Target: target}, s.opts.CallTimeout)
		if err != nil {
			return "", err
		}
		res, err := replyData[types.TranslateResult](reply)
		if err != nil {
			return "", fmt.Errorf("%s reply: %w", types.EvtSubtitleTranslate, err)
		}
		return res.Translated, nil
	})
	if err != nil {
		return "", err
	}
	if shared {
		s.log.Debug("translation served without a new call", zap.String("target", target))
	}
	return out, nil
}

func (s *Subtitles) Close() {
	if s.close() {
		s.translations.Cache().Clear()
	}
}

func (s *Subtitles) onLine(env types.Envelope) {
	line, ok := decode[types.SubtitleLine](&s.base, env)
	if !ok {
		return
	}
	if err := reconcile.ValidateSubtitle(line); err != nil {
		s.drop(env, err)
		return
	}
	s.mu.Lock()
	s.lines = reconcile.Upsert(s.lines, line, reconcile.SubtitleID, s.opts.ListLimit)
	s.mu.Unlock()
	s.changed()
}
