package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"feedsync/internal/domain/feed/model"
	"feedsync/internal/domain/feed/normalizer"
	"feedsync/pkg/logger"
)

// PostgresStore implements DataStore on gorm. Every successful write is
// announced through the publisher so other sessions can reconcile.
type PostgresStore struct {
	db        *gorm.DB
	identity  IdentityProvider
	publisher EventPublisher
}

func NewPostgresStore(db *gorm.DB, identity IdentityProvider, publisher EventPublisher) *PostgresStore {
	return &PostgresStore{db: db, identity: identity, publisher: publisher}
}

// EnsureProfile upserts the profile row joined onto posts and comments.
func (s *PostgresStore) EnsureProfile(ctx context.Context, id model.Identity) error {
	author := normalizer.AuthorFor(id)
	p := Profile{ID: id.ID, Username: author.Name, AvatarURL: id.AvatarURI}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "avatar_url"}),
	}).Create(&p).Error
}

func (s *PostgresStore) viewer(ctx context.Context) string {
	if s.identity == nil {
		return ""
	}
	id, err := s.identity.CurrentIdentity(ctx)
	if err != nil || id == nil {
		return ""
	}
	return id.ID
}

func (s *PostgresStore) requireViewer(ctx context.Context) (string, error) {
	if v := s.viewer(ctx); v != "" {
		return v, nil
	}
	return "", model.ErrUnauthorized
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.ErrNotFound
	}
	return err
}

// publish 写入成功后广播; 广播失败不回滚写入
func (s *PostgresStore) publish(ctx context.Context, typ model.ChangeType, kind model.EntityKind, entityID, postID string, newRec, oldRec model.RawRecord) {
	if s.publisher == nil {
		return
	}
	ev := model.NewEvent(typ, kind, entityID, postID, newRec, oldRec)
	if err := s.publisher.Publish(ctx, ev); err != nil {
		logger.Log.Warn("Failed to publish change event",
			zap.String("kind", string(kind)),
			zap.String("entity_id", entityID),
			zap.Error(err))
	}
}

// postStats 聚合点赞数, 评论数和当前用户的点赞状态
func (s *PostgresStore) postStats(ctx context.Context, ids []string) (stats, error) {
	st := newStats()
	if len(ids) == 0 {
		return st, nil
	}
	db := s.db.WithContext(ctx)

	var likes []countRow
	if err := db.Model(&PostLike{}).Select("post_id AS id, count(*) AS n").
		Where("post_id IN ?", ids).Group("post_id").Scan(&likes).Error; err != nil {
		return st, err
	}
	for _, r := range likes {
		st.likes[r.ID] = r.N
	}

	var comments []countRow
	if err := db.Model(&CommentRow{}).Select("post_id AS id, count(*) AS n").
		Where("post_id IN ?", ids).Group("post_id").Scan(&comments).Error; err != nil {
		return st, err
	}
	for _, r := range comments {
		st.comments[r.ID] = r.N
	}

	if viewer := s.viewer(ctx); viewer != "" {
		var liked []string
		if err := db.Model(&PostLike{}).Where("user_id = ? AND post_id IN ?", viewer, ids).
			Pluck("post_id", &liked).Error; err != nil {
			return st, err
		}
		for _, id := range liked {
			st.liked[id] = true
		}
	}
	return st, nil
}

func (s *PostgresStore) commentStats(ctx context.Context, ids []string) (stats, error) {
	st := newStats()
	if len(ids) == 0 {
		return st, nil
	}
	db := s.db.WithContext(ctx)

	var likes []countRow
	if err := db.Model(&CommentLike{}).Select("comment_id AS id, count(*) AS n").
		Where("comment_id IN ?", ids).Group("comment_id").Scan(&likes).Error; err != nil {
		return st, err
	}
	for _, r := range likes {
		st.likes[r.ID] = r.N
	}

	if viewer := s.viewer(ctx); viewer != "" {
		var liked []string
		if err := db.Model(&CommentLike{}).Where("user_id = ? AND comment_id IN ?", viewer, ids).
			Pluck("comment_id", &liked).Error; err != nil {
			return st, err
		}
		for _, id := range liked {
			st.liked[id] = true
		}
	}
	return st, nil
}

func (s *PostgresStore) FetchPosts(ctx context.Context, limit int) ([]model.RawRecord, error) {
	var rows []PostRow
	q := s.db.WithContext(ctx).Preload("User").Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	st, err := s.postStats(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]model.RawRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, postRecord(r, st))
	}
	return out, nil
}

func (s *PostgresStore) FetchPost(ctx context.Context, id string) (model.RawRecord, error) {
	var row PostRow
	if err := s.db.WithContext(ctx).Preload("User").Where("id = ?", id).First(&row).Error; err != nil {
		return nil, notFound(err)
	}
	st, err := s.postStats(ctx, []string{row.ID})
	if err != nil {
		return nil, err
	}
	return postRecord(row, st), nil
}

func (s *PostgresStore) CreatePost(ctx context.Context, in model.NewPost) (model.RawRecord, error) {
	row := PostRow{
		UserID:      in.AuthorID,
		Content:     in.Content,
		ImageURL:    in.ImageURL,
		ClientNonce: in.Nonce,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, err
	}
	rec, err := s.FetchPost(ctx, row.ID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, model.Inserted, model.KindPost, row.ID, row.ID, rec, nil)
	return rec, nil
}

// UpdatePost is owner-scoped: a post of someone else reads as missing.
func (s *PostgresStore) UpdatePost(ctx context.Context, id string, patch model.Patch) (model.RawRecord, error) {
	viewer, err := s.requireViewer(ctx)
	if err != nil {
		return nil, err
	}
	res := s.db.WithContext(ctx).Model(&PostRow{}).
		Where("id = ? AND user_id = ?", id, viewer).
		Updates(patchColumns(patch))
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, model.ErrNotFound
	}
	rec, err := s.FetchPost(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, model.Updated, model.KindPost, id, id, rec, nil)
	return rec, nil
}

func (s *PostgresStore) DeletePost(ctx context.Context, id string) error {
	viewer, err := s.requireViewer(ctx)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, viewer).Delete(&PostRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return model.ErrNotFound
	}
	s.publish(ctx, model.Deleted, model.KindPost, id, id, nil, model.RawRecord{"id": id})
	return nil
}

// FetchComments loads the whole thread oldest first and nests every reply
// under its parent's "replies".
func (s *PostgresStore) FetchComments(ctx context.Context, postID string) ([]model.RawRecord, error) {
	var rows []CommentRow
	if err := s.db.WithContext(ctx).Preload("User").
		Where("post_id = ?", postID).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	st, err := s.commentStats(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]model.RawRecord, len(rows))
	for _, r := range rows {
		rec := commentRecord(r, st)
		rec["replies"] = []interface{}{}
		byID[r.ID] = rec
	}

	top := make([]model.RawRecord, 0, len(rows))
	for _, r := range rows {
		rec := byID[r.ID]
		if r.ParentID != nil {
			if parent, ok := byID[*r.ParentID]; ok {
				parent["replies"] = append(parent["replies"].([]interface{}), rec)
				continue
			}
		}
		top = append(top, rec)
	}
	return top, nil
}

func (s *PostgresStore) FetchComment(ctx context.Context, id string) (model.RawRecord, error) {
	var row CommentRow
	if err := s.db.WithContext(ctx).Preload("User").Where("id = ?", id).First(&row).Error; err != nil {
		return nil, notFound(err)
	}
	st, err := s.commentStats(ctx, []string{row.ID})
	if err != nil {
		return nil, err
	}
	return commentRecord(row, st), nil
}

func (s *PostgresStore) CreateComment(ctx context.Context, in model.NewComment) (model.RawRecord, error) {
	row := CommentRow{
		PostID:      in.PostID,
		UserID:      in.AuthorID,
		Content:     in.Content,
		ImageURL:    in.ImageURL,
		ClientNonce: in.Nonce,
	}
	if in.ParentID != "" {
		parent := in.ParentID
		row.ParentID = &parent
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, err
	}
	rec, err := s.FetchComment(ctx, row.ID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, model.Inserted, model.KindComment, row.ID, row.PostID, rec, nil)
	s.publish(ctx, model.Updated, model.KindPostCounter, row.PostID, row.PostID, model.RawRecord{"id": row.PostID}, nil)
	return rec, nil
}

func (s *PostgresStore) UpdateComment(ctx context.Context, id string, patch model.Patch) (model.RawRecord, error) {
	viewer, err := s.requireViewer(ctx)
	if err != nil {
		return nil, err
	}
	res := s.db.WithContext(ctx).Model(&CommentRow{}).
		Where("id = ? AND user_id = ?", id, viewer).
		Updates(patchColumns(patch))
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, model.ErrNotFound
	}
	rec, err := s.FetchComment(ctx, id)
	if err != nil {
		return nil, err
	}
	postID, _ := rec["post_id"].(string)
	s.publish(ctx, model.Updated, model.KindComment, id, postID, rec, nil)
	return rec, nil
}

// patchColumns 只覆盖给出的字段, 空图片地址保留原图
func patchColumns(patch model.Patch) map[string]interface{} {
	cols := map[string]interface{}{"content": patch.Content, "updated_at": time.Now().UTC()}
	if patch.ImageURL != "" {
		cols["image_url"] = patch.ImageURL
	}
	return cols
}

// DeleteComment removes a comment and, through the foreign key cascade,
// its replies. Authors and the post owner may delete.
func (s *PostgresStore) DeleteComment(ctx context.Context, id string) error {
	viewer, err := s.requireViewer(ctx)
	if err != nil {
		return err
	}
	db := s.db.WithContext(ctx)

	var row CommentRow
	if err := db.Select("id", "post_id", "user_id").Where("id = ?", id).First(&row).Error; err != nil {
		return notFound(err)
	}

	res := db.Where("id = ? AND (user_id = ? OR post_id IN (?))", id, viewer,
		db.Model(&PostRow{}).Select("id").Where("user_id = ?", viewer)).
		Delete(&CommentRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return model.ErrForbidden
	}

	s.publish(ctx, model.Deleted, model.KindComment, id, row.PostID, nil, model.RawRecord{"id": id, "post_id": row.PostID})
	s.publish(ctx, model.Updated, model.KindPostCounter, row.PostID, row.PostID, model.RawRecord{"id": row.PostID}, nil)
	return nil
}

func (s *PostgresStore) CountComments(ctx context.Context, postID string) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&CommentRow{}).Where("post_id = ?", postID).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

// SetLike is idempotent in both directions.
func (s *PostgresStore) SetLike(ctx context.Context, target model.LikeTarget, liked bool) error {
	viewer, err := s.requireViewer(ctx)
	if err != nil {
		return err
	}
	db := s.db.WithContext(ctx)

	switch target.Kind {
	case model.KindPost:
		if liked {
			err = db.Clauses(clause.OnConflict{DoNothing: true}).
				Create(&PostLike{PostID: target.PostID, UserID: viewer}).Error
		} else {
			err = db.Where("post_id = ? AND user_id = ?", target.PostID, viewer).Delete(&PostLike{}).Error
		}
	case model.KindComment:
		if liked {
			err = db.Clauses(clause.OnConflict{DoNothing: true}).
				Create(&CommentLike{CommentID: target.CommentID, UserID: viewer}).Error
		} else {
			err = db.Where("comment_id = ? AND user_id = ?", target.CommentID, viewer).Delete(&CommentLike{}).Error
		}
	default:
		return model.ErrInvalidInput
	}
	if err != nil {
		return err
	}

	// partial record: subscribers re-fetch to pick up the new aggregate
	id := target.EntityID()
	s.publish(ctx, model.Updated, target.Kind, id, target.PostID, model.RawRecord{"id": id, "post_id": target.PostID}, nil)
	return nil
}
