package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/schedpost/internal/metrics"
	"github.com/hitoshi/schedpost/internal/model"
	"github.com/hitoshi/schedpost/internal/repository"
)

// Outcome は予約投稿1件の公開処理の結果を表す。
type Outcome string

const (
	// OutcomePublished は投稿を作成し published に遷移させたことを表す。
	OutcomePublished Outcome = "published"
	// OutcomeFailed は公開に失敗し failed に遷移させたことを表す。
	OutcomeFailed Outcome = "failed"
	// OutcomeSkipped は既に pending でなかった、または他のワーカーが処理中だったことを表す。
	OutcomeSkipped Outcome = "skipped"
)

// failRecordTimeout は failed の記録に使う書き込みのタイムアウト。
const failRecordTimeout = 5 * time.Second

// ClaimStore は公開処理に必要な予約投稿ストアのインターフェース。
// repository.ScheduledPostRepository の部分集合。
type ClaimStore interface {
	ClaimPending(ctx context.Context, id string) (repository.PublishClaim, error)
	FailPending(ctx context.Context, id, errorMessage string, at time.Time) (bool, error)
}

// AccountDirectory は投稿者アカウントの参照インターフェース。
type AccountDirectory interface {
	FindAccount(ctx context.Context, id string) (*model.Account, error)
}

// PublishTarget は予約投稿の公開先（投稿テーブル）への書き込みインターフェース。
type PublishTarget interface {
	Create(ctx context.Context, post model.NewPost) (string, error)
}

// TargetFactory は予約投稿のロックを保持しているトランザクションに束縛した公開先を返す。
// 投稿の作成と published への遷移を同じトランザクションでコミットするために使う。
type TargetFactory func(tx repository.DBTX) PublishTarget

// MediaProber は公開直前にメディアの到達性を確認するインターフェース。
type MediaProber interface {
	Probe(ctx context.Context, rawURL string) error
}

// Summary は1回の一括公開の結果件数。
type Summary struct {
	Published int
	Failed    int
	Skipped   int
	Errors    int // ストア障害などで pending のまま残った件数（次回のティックで再処理される）
}

// Total は処理した件数の合計を返す。
func (s Summary) Total() int {
	return s.Published + s.Failed + s.Skipped + s.Errors
}

// PublisherConfig はPublisherの動作設定。
type PublisherConfig struct {
	MaxConcurrency int           // 同時に公開処理する件数の上限。0以下の場合は4
	Timeout        time.Duration // 1件あたりの処理タイムアウト。0以下の場合は30秒
}

// Publisher は公開対象の予約投稿を投稿に変換し、終端状態を記録する。
// 予約投稿ごとに独立して処理し、1件の失敗が他の予約投稿に影響しない。
type Publisher struct {
	store     ClaimStore
	accounts  AccountDirectory
	newTarget TargetFactory
	prober    MediaProber // nilの場合はメディアの到達確認を行わない
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	cfg       PublisherConfig
	now       func() time.Time
}

// NewPublisher はPublisherの新しいインスタンスを生成する。
func NewPublisher(
	store ClaimStore,
	accounts AccountDirectory,
	newTarget TargetFactory,
	prober MediaProber,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	cfg PublisherConfig,
) *Publisher {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Publisher{
		store:     store,
		accounts:  accounts,
		newTarget: newTarget,
		prober:    prober,
		metrics:   collector,
		logger:    logger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// publishFailure は公開失敗の原因と理由ラベル。
type publishFailure struct {
	reason string
	err    error
}

func (f *publishFailure) Error() string { return f.err.Error() }
func (f *publishFailure) Unwrap() error { return f.err }

// Publish は予約投稿1件を公開する。
//
// 行ロックを取得できた場合のみ投稿を作成する。ロックを取得できない場合
// （既に pending でない、または他のワーカーが処理中）は何も書き込まず OutcomeSkipped を返す。
// 公開に失敗した場合は failed に遷移させ、自動リトライは行わない。
// errorを返すのはストア自体の障害で、その場合の予約投稿は pending のまま残る。
func (p *Publisher) Publish(ctx context.Context, entry *model.ScheduledPost) (Outcome, error) {
	start := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.RecordPublishLatency(time.Since(start))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	claim, err := p.store.ClaimPending(ctx, entry.ID)
	if err != nil {
		return "", fmt.Errorf("予約投稿のロック取得に失敗しました: %w", err)
	}
	if claim == nil {
		p.skipped(entry.ID, "既にpendingではないか、他のワーカーが処理中です")
		return OutcomeSkipped, nil
	}

	postID, failure := p.materialize(ctx, claim)
	if failure == nil {
		if err := claim.Complete(ctx, postID, p.now()); err != nil {
			failure = &publishFailure{reason: metrics.FailureReasonCommit, err: err}
		}
	}
	if failure == nil {
		p.logger.Info("予約投稿を公開しました",
			slog.String("scheduled_post_id", entry.ID),
			slog.String("post_id", postID),
			slog.String("author_id", claim.Post().AuthorID),
		)
		if p.metrics != nil {
			p.metrics.RecordPublishSuccess(entry.ID)
		}
		return OutcomePublished, nil
	}

	// 書き込みに失敗したトランザクションは再利用できないため、
	// ロックを解放してから条件付き更新で failed を記録する。
	if err := claim.Release(); err != nil {
		p.logger.Warn("予約投稿のロック解放に失敗しました",
			slog.String("scheduled_post_id", entry.ID),
			slog.String("error", err.Error()),
		)
	}
	return p.fail(ctx, entry.ID, failure)
}

// materialize は公開先に投稿を作成し、新しい投稿IDを返す。
func (p *Publisher) materialize(ctx context.Context, claim repository.PublishClaim) (string, *publishFailure) {
	post := claim.Post()

	account, err := p.accounts.FindAccount(ctx, post.AuthorID)
	if err != nil {
		return "", &publishFailure{reason: metrics.FailureReasonAccount, err: fmt.Errorf("投稿者アカウントの取得に失敗しました: %w", err)}
	}
	if account == nil {
		return "", &publishFailure{reason: metrics.FailureReasonAccount, err: model.NewAccountNotFoundError(post.AuthorID)}
	}

	if p.prober != nil && post.MediaURL != "" {
		if err := p.prober.Probe(ctx, post.MediaURL); err != nil {
			return "", &publishFailure{reason: metrics.FailureReasonMedia, err: fmt.Errorf("メディアを取得できません: %w", err)}
		}
	}

	postID, err := p.newTarget(claim.Tx()).Create(ctx, model.NewPost{
		Description:      post.Description,
		MediaURL:         post.MediaURL,
		MediaType:        post.MediaType,
		CommentsDisabled: post.CommentsDisabled,
		AuthorID:         account.ID,
	})
	if err != nil {
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) {
			err = model.NewPublishWriteError(err)
		}
		return "", &publishFailure{reason: metrics.FailureReasonWrite, err: err}
	}
	return postID, nil
}

// fail は予約投稿を failed に遷移させる。
// 取り消しなどに先を越されていた場合は OutcomeSkipped とする。
func (p *Publisher) fail(ctx context.Context, id string, failure *publishFailure) (Outcome, error) {
	// 公開処理のタイムアウトで失敗した場合でも記録できるよう、キャンセルを切り離す
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failRecordTimeout)
	defer cancel()

	ok, err := p.store.FailPending(ctx, id, failure.Error(), p.now())
	if err != nil {
		return "", fmt.Errorf("公開失敗の記録に失敗しました: %w", err)
	}
	if !ok {
		p.skipped(id, "失敗の記録前に状態が変化していました")
		return OutcomeSkipped, nil
	}

	p.logger.Warn("予約投稿の公開に失敗しました",
		slog.String("scheduled_post_id", id),
		slog.String("reason", failure.reason),
		slog.String("error", failure.Error()),
	)
	if p.metrics != nil {
		p.metrics.RecordPublishFailure(id, failure.reason)
	}
	return OutcomeFailed, nil
}

func (p *Publisher) skipped(id, detail string) {
	p.logger.Info("予約投稿の公開をスキップしました",
		slog.String("scheduled_post_id", id),
		slog.String("detail", detail),
	)
	if p.metrics != nil {
		p.metrics.RecordPublishSkipped(id)
	}
}

// PublishAll は予約投稿を並列に公開し、結果件数を返す。
// semaphoreパターンで最大並列数を制御する。
func (p *Publisher) PublishAll(ctx context.Context, entries []*model.ScheduledPost) Summary {
	var (
		mu      sync.Mutex
		summary Summary
		wg      sync.WaitGroup
	)
	sem := make(chan struct{}, p.cfg.MaxConcurrency)

	for i, entry := range entries {
		// キャンセル後は新しい公開を始めない。残りは pending のまま次回のティックで処理される
		acquired := false
		if ctx.Err() == nil {
			select {
			case sem <- struct{}{}:
				acquired = true
			case <-ctx.Done():
			}
		}
		if acquired && ctx.Err() != nil {
			<-sem
			acquired = false
		}
		if !acquired {
			mu.Lock()
			summary.Errors += len(entries) - i
			mu.Unlock()
			p.logger.Warn("キャンセルされたため残りの予約投稿の公開を中止しました",
				slog.Int("remaining", len(entries)-i),
			)
			break
		}
		wg.Add(1)

		go func(e *model.ScheduledPost) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome, err := p.Publish(ctx, e)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Errors++
				p.logger.Error("予約投稿の公開処理でエラーが発生しました",
					slog.String("scheduled_post_id", e.ID),
					slog.String("error", err.Error()),
				)
				return
			}
			switch outcome {
			case OutcomePublished:
				summary.Published++
			case OutcomeFailed:
				summary.Failed++
			case OutcomeSkipped:
				summary.Skipped++
			}
		}(entry)
	}

	wg.Wait()
	return summary
}
