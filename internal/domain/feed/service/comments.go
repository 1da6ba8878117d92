package service

import (
	"context"
	"errors"

	"feedsync/internal/domain/feed/model"
	"feedsync/internal/domain/feed/normalizer"
)

func (s *mutationService) CreateComment(ctx context.Context, draft model.CommentDraft) (*model.Comment, *Pending[*model.Comment], error) {
	if err := s.validate.Struct(draft); err != nil {
		return nil, nil, s.reject(opCreateComment, model.ErrInvalidInput, err)
	}
	me, err := s.currentIdentity(ctx, opCreateComment)
	if err != nil {
		return nil, nil, err
	}
	if draft.ParentID != "" {
		if IsProvisionalID(draft.ParentID) {
			return nil, nil, s.reject(opCreateComment, model.ErrInvalidInput, errors.New("parent comment is not confirmed yet"))
		}
		if _, ok := s.coll.Comment(draft.PostID, draft.ParentID); !ok {
			return nil, nil, s.reject(opCreateComment, model.ErrNotFound, errors.New("parent comment not found"))
		}
	}
	imageURL, err := s.uploadImage(ctx, opCreateComment, s.opts.CommentBucket, me, draft.Image, draft.OnUploadFailure)
	if err != nil {
		return nil, nil, err
	}

	localID := newLocalID()
	now := s.now()
	provisional := &model.Comment{
		ID:          localID,
		PostID:      draft.PostID,
		ParentID:    draft.ParentID,
		Author:      normalizer.AuthorFor(me),
		Content:     draft.Content,
		ImageURI:    imageURL,
		CreatedAt:   now,
		UpdatedAt:   now,
		Nonce:       localID,
		Provisional: true,
	}
	s.coll.UpsertComment(draft.PostID, provisional)
	s.coll.AdjustCommentCount(draft.PostID, 1)

	pending := confirm(s, ctx, opCreateComment,
		func(ctx context.Context) (*model.Comment, error) {
			raw, err := s.store.CreateComment(ctx, model.NewComment{
				PostID:   draft.PostID,
				ParentID: draft.ParentID,
				AuthorID: me.ID,
				Content:  draft.Content,
				ImageURL: imageURL,
				Nonce:    localID,
			})
			if err != nil {
				return nil, err
			}
			return normalizer.NormalizeComment(raw), nil
		},
		func(cm *model.Comment) { s.coll.ReplaceComment(draft.PostID, localID, cm) },
		func() {
			if _, _, ok := s.coll.RemoveComment(draft.PostID, localID); ok {
				s.coll.AdjustCommentCount(draft.PostID, -1)
			}
		},
	)
	return provisional.Clone(), pending, nil
}

// UpdateComment edits the caller's own comment in place. A new image is
// uploaded first; without one the current image stays.
func (s *mutationService) UpdateComment(ctx context.Context, edit model.CommentEdit) (*model.Comment, *Pending[*model.Comment], error) {
	if err := s.validate.Struct(edit); err != nil {
		return nil, nil, s.reject(opUpdateComment, model.ErrInvalidInput, err)
	}
	me, err := s.currentIdentity(ctx, opUpdateComment)
	if err != nil {
		return nil, nil, err
	}
	postID, commentID := edit.PostID, edit.CommentID
	existing, ok := s.coll.Comment(postID, commentID)
	if !ok {
		return nil, nil, s.reject(opUpdateComment, model.ErrNotFound, nil)
	}
	if existing.Author.ID != me.ID {
		return nil, nil, s.reject(opUpdateComment, model.ErrForbidden, nil)
	}
	if existing.Provisional {
		return nil, nil, s.reject(opUpdateComment, model.ErrInvalidInput, errors.New("comment is not confirmed yet"))
	}
	imageURL, err := s.uploadImage(ctx, opUpdateComment, s.opts.CommentBucket, me, edit.Image, edit.OnUploadFailure)
	if err != nil {
		return nil, nil, err
	}

	prevContent, prevImage, prevUpdated := existing.Content, existing.ImageURI, existing.UpdatedAt
	nextImage := prevImage
	if imageURL != "" {
		nextImage = imageURL
	}
	edited, _ := s.coll.UpdateComment(postID, commentID, func(cm *model.Comment) {
		cm.Content = edit.Content
		cm.ImageURI = nextImage
		cm.UpdatedAt = s.now()
	})

	pending := confirm(s, ctx, opUpdateComment,
		func(ctx context.Context) (*model.Comment, error) {
			raw, err := s.store.UpdateComment(ctx, commentID, model.Patch{Content: edit.Content, ImageURL: imageURL})
			if err != nil {
				return nil, err
			}
			return normalizer.NormalizeComment(raw), nil
		},
		func(cm *model.Comment) {
			if cm.ParentID == "" {
				cm.ParentID = existing.ParentID
			}
			s.coll.UpsertComment(postID, cm)
		},
		func() {
			s.coll.UpdateComment(postID, commentID, func(cm *model.Comment) {
				if cm.Content == edit.Content && cm.ImageURI == nextImage {
					cm.Content = prevContent
					cm.ImageURI = prevImage
					cm.UpdatedAt = prevUpdated
				}
			})
		},
	)
	return edited, pending, nil
}

func (s *mutationService) DeleteComment(ctx context.Context, postID, commentID string) (*Pending[struct{}], error) {
	me, err := s.currentIdentity(ctx, opDeleteComment)
	if err != nil {
		return nil, err
	}
	existing, ok := s.coll.Comment(postID, commentID)
	if !ok {
		return nil, s.reject(opDeleteComment, model.ErrNotFound, nil)
	}
	post, havePost := s.coll.Post(postID)
	postOwner := havePost && post.Author.ID == me.ID
	if existing.Author.ID != me.ID && !postOwner {
		return nil, s.reject(opDeleteComment, model.ErrForbidden, nil)
	}
	if existing.Provisional {
		return nil, s.reject(opDeleteComment, model.ErrInvalidInput, errors.New("comment is not confirmed yet"))
	}

	removed, loc, ok := s.coll.RemoveComment(postID, commentID)
	if !ok {
		return nil, s.reject(opDeleteComment, model.ErrNotFound, nil)
	}
	s.coll.AdjustCommentCount(postID, -1)

	return confirm(s, ctx, opDeleteComment,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.store.DeleteComment(ctx, commentID)
		},
		func(struct{}) {},
		func() {
			s.coll.RestoreComment(postID, removed, loc)
			s.coll.AdjustCommentCount(postID, 1)
		},
	), nil
}

// LoadComments replaces the post's tree with the authoritative one. Each
// level is ordered oldest first.
func (s *mutationService) LoadComments(ctx context.Context, postID string) error {
	raws, err := s.store.FetchComments(ctx, postID)
	if err != nil {
		return model.NewMutationError(opLoadComments, failureKind(err), err)
	}
	tree := normalizer.NormalizeComments(raws)
	pending := s.coll.SetComments(postID, tree)
	s.coll.SetCommentCount(postID, int64(model.CountComments(tree)+pending))
	return nil
}
