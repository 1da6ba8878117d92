package model

// Image is an attachment picked by the user.
type Image struct {
	Data        []byte
	ContentType string
}

// UploadDecision is the caller's answer when an image upload fails.
type UploadDecision int

const (
	AbortOnUploadFailure UploadDecision = iota
	ContinueWithoutImage
)

// UploadFailureHandler is consulted once per failed upload.
type UploadFailureHandler func(err error) UploadDecision

// PostDraft 发布动态参数
type PostDraft struct {
	Content         string `validate:"max=5000,required_without=Image"`
	Image           *Image
	OnUploadFailure UploadFailureHandler
}

// CommentDraft 发布评论参数
type CommentDraft struct {
	PostID          string `validate:"required"`
	ParentID        string
	Content         string `validate:"max=2000,required_without=Image"`
	Image           *Image
	OnUploadFailure UploadFailureHandler
}

// PostEdit 编辑动态参数. A nil Image keeps the current attachment.
type PostEdit struct {
	PostID          string `validate:"required"`
	Content         string `validate:"max=5000,required_without=Image"`
	Image           *Image
	OnUploadFailure UploadFailureHandler
}

// CommentEdit 编辑评论参数
type CommentEdit struct {
	PostID          string `validate:"required"`
	CommentID       string `validate:"required"`
	Content         string `validate:"max=2000,required_without=Image"`
	Image           *Image
	OnUploadFailure UploadFailureHandler
}

// LikeTarget 点赞目标
type LikeTarget struct {
	Kind      EntityKind `json:"kind" validate:"oneof=post comment"`
	PostID    string     `json:"postId" validate:"required"`
	CommentID string     `json:"commentId" validate:"required_if=Kind comment"`
}

// EntityID is the id of the liked entity.
func (t LikeTarget) EntityID() string {
	if t.Kind == KindComment {
		return t.CommentID
	}
	return t.PostID
}
