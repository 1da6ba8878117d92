package service

import (
	"context"
	"errors"

	"feedsync/internal/domain/feed/model"
	"feedsync/internal/domain/feed/normalizer"
)

func (s *mutationService) CreatePost(ctx context.Context, draft model.PostDraft) (model.Post, *Pending[model.Post], error) {
	if err := s.validate.Struct(draft); err != nil {
		return model.Post{}, nil, s.reject(opCreatePost, model.ErrInvalidInput, err)
	}
	me, err := s.currentIdentity(ctx, opCreatePost)
	if err != nil {
		return model.Post{}, nil, err
	}
	imageURL, err := s.uploadImage(ctx, opCreatePost, s.opts.PostBucket, me, draft.Image, draft.OnUploadFailure)
	if err != nil {
		return model.Post{}, nil, err
	}

	localID := newLocalID()
	provisional := model.Post{
		ID:          localID,
		Author:      normalizer.AuthorFor(me),
		Content:     draft.Content,
		ImageURI:    imageURL,
		CreatedAt:   s.now(),
		Nonce:       localID,
		Provisional: true,
	}
	s.coll.PrependPost(provisional)

	pending := confirm(s, ctx, opCreatePost,
		func(ctx context.Context) (model.Post, error) {
			raw, err := s.store.CreatePost(ctx, model.NewPost{
				AuthorID: me.ID,
				Content:  draft.Content,
				ImageURL: imageURL,
				Nonce:    localID,
			})
			if err != nil {
				return model.Post{}, err
			}
			return normalizer.NormalizePost(raw), nil
		},
		func(p model.Post) { s.coll.ReplacePost(localID, p) },
		func() { s.coll.RemovePost(localID) },
	)
	return provisional, pending, nil
}

// UpdatePost edits the caller's own post in place, mirroring UpdateComment.
func (s *mutationService) UpdatePost(ctx context.Context, edit model.PostEdit) (model.Post, *Pending[model.Post], error) {
	if err := s.validate.Struct(edit); err != nil {
		return model.Post{}, nil, s.reject(opUpdatePost, model.ErrInvalidInput, err)
	}
	me, err := s.currentIdentity(ctx, opUpdatePost)
	if err != nil {
		return model.Post{}, nil, err
	}
	existing, ok := s.coll.Post(edit.PostID)
	if !ok {
		return model.Post{}, nil, s.reject(opUpdatePost, model.ErrNotFound, nil)
	}
	if existing.Author.ID != me.ID {
		return model.Post{}, nil, s.reject(opUpdatePost, model.ErrForbidden, nil)
	}
	if existing.Provisional {
		return model.Post{}, nil, s.reject(opUpdatePost, model.ErrInvalidInput, errors.New("post is not confirmed yet"))
	}
	imageURL, err := s.uploadImage(ctx, opUpdatePost, s.opts.PostBucket, me, edit.Image, edit.OnUploadFailure)
	if err != nil {
		return model.Post{}, nil, err
	}

	prevContent, prevImage := existing.Content, existing.ImageURI
	nextImage := prevImage
	if imageURL != "" {
		nextImage = imageURL
	}
	edited, _ := s.coll.UpdatePost(edit.PostID, func(p *model.Post) {
		p.Content = edit.Content
		p.ImageURI = nextImage
	})

	pending := confirm(s, ctx, opUpdatePost,
		func(ctx context.Context) (model.Post, error) {
			raw, err := s.store.UpdatePost(ctx, edit.PostID, model.Patch{Content: edit.Content, ImageURL: imageURL})
			if err != nil {
				return model.Post{}, err
			}
			return normalizer.NormalizePost(raw), nil
		},
		func(p model.Post) { s.coll.UpsertPost(p) },
		func() {
			s.coll.UpdatePost(edit.PostID, func(p *model.Post) {
				if p.Content == edit.Content && p.ImageURI == nextImage {
					p.Content = prevContent
					p.ImageURI = prevImage
				}
			})
		},
	)
	return edited, pending, nil
}

func (s *mutationService) DeletePost(ctx context.Context, postID string) (*Pending[struct{}], error) {
	me, err := s.currentIdentity(ctx, opDeletePost)
	if err != nil {
		return nil, err
	}
	p, ok := s.coll.Post(postID)
	if !ok {
		return nil, s.reject(opDeletePost, model.ErrNotFound, nil)
	}
	if p.Author.ID != me.ID {
		return nil, s.reject(opDeletePost, model.ErrForbidden, nil)
	}
	if p.Provisional {
		return nil, s.reject(opDeletePost, model.ErrInvalidInput, errors.New("post is not confirmed yet"))
	}

	removed, index, ok := s.coll.RemovePost(postID)
	if !ok {
		return nil, s.reject(opDeletePost, model.ErrNotFound, nil)
	}

	return confirm(s, ctx, opDeletePost,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.store.DeletePost(ctx, postID)
		},
		func(struct{}) { s.coll.DropComments(postID) },
		func() { s.coll.InsertPostAt(index, removed) },
	), nil
}

func (s *mutationService) ToggleLike(ctx context.Context, target model.LikeTarget) (bool, *Pending[bool], error) {
	if err := s.validate.Struct(target); err != nil {
		return false, nil, s.reject(opToggleLike, model.ErrInvalidInput, err)
	}
	if _, err := s.currentIdentity(ctx, opToggleLike); err != nil {
		return false, nil, err
	}
	if IsProvisionalID(target.EntityID()) {
		return false, nil, s.reject(opToggleLike, model.ErrInvalidInput, errors.New("target is not confirmed yet"))
	}

	liked, ok := s.flipLike(target, nil)
	if !ok {
		return false, nil, s.reject(opToggleLike, model.ErrNotFound, nil)
	}

	pending := confirm(s, ctx, opToggleLike,
		func(ctx context.Context) (bool, error) {
			return liked, s.store.SetLike(ctx, target, liked)
		},
		func(bool) {},
		func() {
			// only undo if no later toggle has changed the flag again
			s.flipLike(target, &liked)
		},
	)
	return liked, pending, nil
}

// flipLike toggles the like flag and counter. With expect set, the flip only
// happens when the current flag equals *expect.
func (s *mutationService) flipLike(target model.LikeTarget, expect *bool) (bool, bool) {
	var liked bool
	switch target.Kind {
	case model.KindPost:
		p, ok := s.coll.UpdatePost(target.PostID, func(p *model.Post) {
			if expect != nil && p.LikedByMe != *expect {
				return
			}
			p.LikedByMe = !p.LikedByMe
			p.Likes += likeDelta(p.LikedByMe)
		})
		liked = p.LikedByMe
		return liked, ok
	case model.KindComment:
		cm, ok := s.coll.UpdateComment(target.PostID, target.CommentID, func(cm *model.Comment) {
			if expect != nil && cm.LikedByMe != *expect {
				return
			}
			cm.LikedByMe = !cm.LikedByMe
			cm.Likes += likeDelta(cm.LikedByMe)
		})
		if ok {
			liked = cm.LikedByMe
		}
		return liked, ok
	}
	return false, false
}

func likeDelta(liked bool) int64 {
	if liked {
		return 1
	}
	return -1
}

func (s *mutationService) LoadFeed(ctx context.Context, limit int) error {
	if limit <= 0 {
		limit = s.opts.FeedPageSize
	}
	raws, err := s.store.FetchPosts(ctx, limit)
	if err != nil {
		return model.NewMutationError(opLoadFeed, failureKind(err), err)
	}
	page := make([]model.Post, 0, len(raws))
	for _, raw := range raws {
		if p := normalizer.NormalizePost(raw); p.ID != "" {
			page = append(page, p)
		}
	}
	s.coll.MergePosts(page, len(raws) >= limit)
	return nil
}
