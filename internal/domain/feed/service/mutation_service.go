package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"feedsync/internal/domain/feed/collection"
	"feedsync/internal/domain/feed/model"
	"feedsync/internal/domain/feed/repository"
	"feedsync/internal/pkg/uploader"
	"feedsync/internal/pkg/worker"
	"feedsync/pkg/logger"
	"feedsync/pkg/metrics"
)

// LocalIDPrefix marks ids minted on this client before confirmation.
const LocalIDPrefix = "local-"

const (
	opCreatePost    = "create_post"
	opUpdatePost    = "update_post"
	opDeletePost    = "delete_post"
	opCreateComment = "create_comment"
	opUpdateComment = "update_comment"
	opDeleteComment = "delete_comment"
	opToggleLike    = "toggle_like"
	opLoadFeed      = "load_feed"
	opLoadComments  = "load_comments"
)

// IsProvisionalID reports whether id was minted locally.
func IsProvisionalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}

func newLocalID() string {
	return LocalIDPrefix + uuid.NewString()
}

// Dispatcher runs remote confirmations off the caller's path.
type Dispatcher interface {
	Submit(task worker.Task) error
}

// MutationService applies changes to the collection immediately and
// confirms them with the remote store in the background.
type MutationService interface {
	CreatePost(ctx context.Context, draft model.PostDraft) (model.Post, *Pending[model.Post], error)
	UpdatePost(ctx context.Context, edit model.PostEdit) (model.Post, *Pending[model.Post], error)
	DeletePost(ctx context.Context, postID string) (*Pending[struct{}], error)

	CreateComment(ctx context.Context, draft model.CommentDraft) (*model.Comment, *Pending[*model.Comment], error)
	UpdateComment(ctx context.Context, edit model.CommentEdit) (*model.Comment, *Pending[*model.Comment], error)
	DeleteComment(ctx context.Context, postID, commentID string) (*Pending[struct{}], error)

	ToggleLike(ctx context.Context, target model.LikeTarget) (bool, *Pending[bool], error)

	LoadFeed(ctx context.Context, limit int) error
	LoadComments(ctx context.Context, postID string) error
}

type Options struct {
	PostBucket    string
	CommentBucket string
	FeedPageSize  int
	Metrics       *metrics.MetricsCollector
	Now           func() time.Time
}

type mutationService struct {
	store      repository.RemoteStore
	coll       *collection.Collection
	dispatcher Dispatcher
	validate   *validator.Validate
	opts       Options
}

func NewMutationService(store repository.RemoteStore, coll *collection.Collection, dispatcher Dispatcher, opts Options) MutationService {
	if opts.PostBucket == "" {
		opts.PostBucket = "post-images"
	}
	if opts.CommentBucket == "" {
		opts.CommentBucket = "comment-images"
	}
	if opts.FeedPageSize <= 0 {
		opts.FeedPageSize = 50
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &mutationService{
		store:      store,
		coll:       coll,
		dispatcher: dispatcher,
		validate:   validator.New(),
		opts:       opts,
	}
}

func (s *mutationService) now() time.Time {
	return s.opts.Now().UTC()
}

func (s *mutationService) reject(op string, kind, err error) error {
	s.opts.Metrics.RecordMutation(op, "rejected")
	return model.NewMutationError(op, kind, err)
}

func (s *mutationService) currentIdentity(ctx context.Context, op string) (model.Identity, error) {
	me, err := s.store.CurrentIdentity(ctx)
	if err != nil {
		return model.Identity{}, s.reject(op, model.ErrUnauthorized, err)
	}
	if me == nil || me.ID == "" {
		return model.Identity{}, s.reject(op, model.ErrUnauthorized, nil)
	}
	return *me, nil
}

// uploadImage stores the attachment, if any. On failure the caller's
// handler decides whether to go on without the image.
func (s *mutationService) uploadImage(ctx context.Context, op, bucket string, me model.Identity, img *model.Image, onFailure model.UploadFailureHandler) (string, error) {
	if img == nil || len(img.Data) == 0 {
		return "", nil
	}
	contentType := img.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}
	path := uploader.ObjectPath(me.ID, contentType, s.now())

	url, err := s.store.UploadBinary(ctx, bucket, path, img.Data, contentType)
	if err == nil {
		return url, nil
	}
	logger.Log.Warn("Image upload failed",
		zap.String("op", op), zap.String("bucket", bucket), zap.String("path", path), zap.Error(err))
	if onFailure != nil && onFailure(err) == model.ContinueWithoutImage {
		return "", nil
	}
	return "", s.reject(op, model.ErrUploadFailure, err)
}

// failureKind maps a remote error onto the error kind surfaced to callers.
func failureKind(err error) error {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return model.ErrNotFound
	case errors.Is(err, model.ErrForbidden):
		return model.ErrForbidden
	default:
		return model.ErrNetworkFailure
	}
}

// confirm runs call on the dispatcher. On success commit applies the
// confirmed value; on failure rollback undoes the optimistic change. Both
// are skipped when the collection was cleared in the meantime.
func confirm[T any](s *mutationService, ctx context.Context, op string, call func(ctx context.Context) (T, error), commit func(T), rollback func()) *Pending[T] {
	pending := newPending[T]()
	epoch := s.coll.Epoch()
	started := time.Now()
	s.opts.Metrics.RecordMutation(op, "applied")

	task := worker.Task{
		Name: op,
		Ctx:  ctx,
		Run: func(ctx context.Context) error {
			v, err := call(ctx)
			if err != nil {
				return err
			}
			if s.coll.Epoch() == epoch {
				commit(v)
			} else {
				logger.Log.Debug("Discarding confirmation for cleared collection", zap.String("op", op))
			}
			s.opts.Metrics.RecordMutation(op, "confirmed")
			s.opts.Metrics.ObserveMutation(op, time.Since(started))
			pending.resolve(v, nil)
			return nil
		},
		OnFailure: func(err error) {
			if s.coll.Epoch() == epoch {
				rollback()
			}
			s.opts.Metrics.RecordMutation(op, "rolled_back")
			s.opts.Metrics.ObserveMutation(op, time.Since(started))
			logger.Log.Warn("Rolled back optimistic change", zap.String("op", op), zap.Error(err))
			if !errors.Is(err, context.Canceled) {
				sentry.CaptureException(err)
			}
			var zero T
			pending.resolve(zero, model.NewMutationError(op, failureKind(err), err))
		},
	}

	if err := s.dispatcher.Submit(task); err != nil {
		task.OnFailure(err)
	}
	return pending
}
