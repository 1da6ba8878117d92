package collection

import (
	"feedsync/internal/domain/feed/model"
)

// UpsertResult tells what UpsertComment did with the comment.
type UpsertResult int

const (
	Inserted UpsertResult = iota
	Replaced
	// Deferred means the parent is missing; the comment waits in the orphan
	// buffer and is attached once the parent arrives.
	Deferred
)

// Location is where a comment sat in the tree, used to restore it.
type Location struct {
	// ParentID is the node the comment hung under, empty for top level.
	ParentID string
	Index    int
}

type position struct {
	path  []*model.Comment // ancestors, root first
	node  *model.Comment
	index int
}

func (p position) depth() int {
	return len(p.path) + 1
}

func locate(list []*model.Comment, id string) (position, bool) {
	if id == "" {
		return position{}, false
	}
	for i, cm := range list {
		if cm.ID == id {
			return position{node: cm, index: i}, true
		}
		if pos, ok := locate(cm.Replies, id); ok {
			pos.path = append([]*model.Comment{cm}, pos.path...)
			return pos, true
		}
	}
	return position{}, false
}

// Comments returns a deep copy of the post's comment tree.
func (c *Collection) Comments(postID string) []*model.Comment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return model.CloneComments(c.comments[postID])
}

// Comment returns a copy of one comment, searched at every depth.
func (c *Collection) Comment(postID, id string) (*model.Comment, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pos, ok := locate(c.comments[postID], id)
	if !ok {
		return nil, false
	}
	return pos.node.Clone(), true
}

// Depth returns the display depth of a comment, 1 for top level.
func (c *Collection) Depth(postID, id string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pos, ok := locate(c.comments[postID], id)
	if !ok {
		return 0, false
	}
	return pos.depth(), true
}

// PendingReplies counts comments buffered for a missing parent.
func (c *Collection) PendingReplies(postID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, waiting := range c.orphans[postID] {
		n += len(waiting)
	}
	return n
}

// UpsertComment replaces a comment by id (or provisional nonce) keeping its
// children, else attaches it under its parent within the depth cap, else
// buffers it until the parent shows up.
func (c *Collection) UpsertComment(postID string, cm *model.Comment) UpsertResult {
	c.mu.Lock()
	res := c.insertLocked(postID, cm.Clone())
	change, ls := c.commitLocked(ReasonComments, postID)
	c.mu.Unlock()
	notify(ls, change)
	return res
}

func (c *Collection) insertLocked(postID string, cm *model.Comment) UpsertResult {
	cm.PostID = postID
	if cm.Likes < 0 {
		cm.Likes = 0
	}
	children := cm.Replies
	cm.Replies = nil

	tree := c.comments[postID]
	if pos, ok := locate(tree, cm.ID); ok {
		c.replaceNodeLocked(postID, pos.node, cm, children)
		c.dropOrphanLocked(postID, cm.ID)
		c.dropNonceDuplicateLocked(postID, cm)
		return Replaced
	}
	if cm.Nonce != "" && cm.Nonce != cm.ID {
		if pos, ok := locate(tree, cm.Nonce); ok && pos.node.Provisional {
			c.replaceNodeLocked(postID, pos.node, cm, children)
			c.adoptLocked(postID, cm.ID)
			return Replaced
		}
	}

	if cm.ParentID == "" {
		c.comments[postID] = append(tree, cm)
	} else {
		ppos, ok := locate(tree, cm.ParentID)
		if !ok {
			cm.Replies = children
			c.bufferLocked(postID, cm)
			return Deferred
		}
		c.attachLocked(postID, append(ppos.path, ppos.node), cm)
	}
	c.dropOrphanLocked(postID, cm.ID)
	c.insertChildrenLocked(postID, cm.ID, children)
	c.adoptLocked(postID, cm.ID)
	return Inserted
}

// attachLocked hangs cm under the last allowed node of ancestors.
func (c *Collection) attachLocked(postID string, ancestors []*model.Comment, cm *model.Comment) {
	limit := c.maxDepth - 1
	if limit < 1 {
		c.comments[postID] = append(c.comments[postID], cm)
		return
	}
	if len(ancestors) > limit {
		ancestors = ancestors[:limit]
	}
	target := ancestors[len(ancestors)-1]
	target.Replies = append(target.Replies, cm)
}

func (c *Collection) replaceNodeLocked(postID string, dst, src *model.Comment, incoming []*model.Comment) {
	replies := dst.Replies
	*dst = *src
	dst.Replies = replies
	c.insertChildrenLocked(postID, dst.ID, incoming)
}

func (c *Collection) insertChildrenLocked(postID, parentID string, children []*model.Comment) {
	for _, child := range children {
		if child.ParentID == "" {
			child.ParentID = parentID
		}
		c.insertLocked(postID, child)
	}
}

func (c *Collection) dropNonceDuplicateLocked(postID string, cm *model.Comment) {
	if cm.Nonce == "" || cm.Nonce == cm.ID {
		return
	}
	if pos, ok := locate(c.comments[postID], cm.Nonce); ok && pos.node.Provisional {
		c.detachLocked(postID, pos)
	}
}

func (c *Collection) bufferLocked(postID string, cm *model.Comment) {
	c.dropOrphanLocked(postID, cm.ID)
	byParent, ok := c.orphans[postID]
	if !ok {
		byParent = make(map[string][]*model.Comment)
		c.orphans[postID] = byParent
	}
	byParent[cm.ParentID] = append(byParent[cm.ParentID], cm)
}

func (c *Collection) adoptLocked(postID, parentID string) {
	byParent := c.orphans[postID]
	waiting := byParent[parentID]
	if len(waiting) == 0 {
		return
	}
	delete(byParent, parentID)
	if len(byParent) == 0 {
		delete(c.orphans, postID)
	}
	for _, w := range waiting {
		c.insertLocked(postID, w)
	}
}

func (c *Collection) dropOrphanLocked(postID, id string) bool {
	byParent := c.orphans[postID]
	for parentID, waiting := range byParent {
		for i, w := range waiting {
			if w.ID == id {
				byParent[parentID] = append(waiting[:i], waiting[i+1:]...)
				if len(byParent[parentID]) == 0 {
					delete(byParent, parentID)
				}
				if len(byParent) == 0 {
					delete(c.orphans, postID)
				}
				return true
			}
		}
	}
	return false
}

// detachLocked unlinks the node at pos and returns where it was.
func (c *Collection) detachLocked(postID string, pos position) Location {
	loc := Location{Index: pos.index}
	if len(pos.path) == 0 {
		list := c.comments[postID]
		c.comments[postID] = append(list[:pos.index], list[pos.index+1:]...)
		return loc
	}
	parent := pos.path[len(pos.path)-1]
	loc.ParentID = parent.ID
	parent.Replies = append(parent.Replies[:pos.index], parent.Replies[pos.index+1:]...)
	return loc
}

// ReplaceComment swaps the provisional comment oldID for the confirmed cm.
// If cm already arrived through an event the provisional copy is dropped.
func (c *Collection) ReplaceComment(postID, oldID string, cm *model.Comment) {
	c.mu.Lock()
	cm = cm.Clone()
	cm.PostID = postID
	tree := c.comments[postID]
	oldPos, oldOK := locate(tree, oldID)
	_, newOK := locate(tree, cm.ID)
	switch {
	case oldOK && newOK && oldID != cm.ID:
		c.detachLocked(postID, oldPos)
		c.insertLocked(postID, cm)
	case oldOK:
		children := cm.Replies
		cm.Replies = nil
		c.replaceNodeLocked(postID, oldPos.node, cm, children)
		c.adoptLocked(postID, cm.ID)
	default:
		c.insertLocked(postID, cm)
	}
	change, ls := c.commitLocked(ReasonComments, postID)
	c.mu.Unlock()
	notify(ls, change)
}

// RemoveComment deletes a comment with its subtree, from the tree or from
// the orphan buffer.
func (c *Collection) RemoveComment(postID, id string) (*model.Comment, Location, bool) {
	c.mu.Lock()
	pos, ok := locate(c.comments[postID], id)
	var loc Location
	if ok {
		loc = c.detachLocked(postID, pos)
	}
	buffered := c.dropOrphanLocked(postID, id)
	if !ok && !buffered {
		c.mu.Unlock()
		return nil, Location{}, false
	}
	change, ls := c.commitLocked(ReasonComments, postID)
	c.mu.Unlock()
	notify(ls, change)
	if !ok {
		return nil, Location{}, false
	}
	return pos.node, loc, true
}

// RestoreComment puts a removed comment back where it was. If the former
// parent is gone it is inserted like a new comment.
func (c *Collection) RestoreComment(postID string, cm *model.Comment, loc Location) {
	c.mu.Lock()
	defer func() {
		change, ls := c.commitLocked(ReasonComments, postID)
		c.mu.Unlock()
		notify(ls, change)
	}()

	tree := c.comments[postID]
	if _, ok := locate(tree, cm.ID); ok {
		return
	}
	cm = cm.Clone()
	if loc.ParentID == "" {
		c.comments[postID] = insertAt(tree, loc.Index, cm)
		return
	}
	ppos, ok := locate(tree, loc.ParentID)
	if !ok {
		c.insertLocked(postID, cm)
		return
	}
	ppos.node.Replies = insertAt(ppos.node.Replies, loc.Index, cm)
}

func insertAt(list []*model.Comment, i int, cm *model.Comment) []*model.Comment {
	if i < 0 {
		i = 0
	}
	if i > len(list) {
		i = len(list)
	}
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = cm
	return list
}

// UpdateComment applies fn to the stored comment and returns a copy.
func (c *Collection) UpdateComment(postID, id string, fn func(cm *model.Comment)) (*model.Comment, bool) {
	c.mu.Lock()
	pos, ok := locate(c.comments[postID], id)
	if !ok {
		c.mu.Unlock()
		return nil, false
	}
	replies := pos.node.Replies
	fn(pos.node)
	pos.node.ID = id
	pos.node.Replies = replies
	if pos.node.Likes < 0 {
		pos.node.Likes = 0
	}
	out := pos.node.Clone()
	change, ls := c.commitLocked(ReasonComments, postID)
	c.mu.Unlock()
	notify(ls, change)
	return out, true
}

// SetComments applies an authoritative tree for postID. Provisional comments
// not yet represented in it are kept; their number is returned.
func (c *Collection) SetComments(postID string, list []*model.Comment) int {
	c.mu.Lock()
	var provisional []*model.Comment
	model.Walk(c.comments[postID], func(cm *model.Comment, _ int) bool {
		if cm.Provisional {
			cp := *cm
			cp.Replies = nil
			provisional = append(provisional, &cp)
		}
		return true
	})

	confirmedNonces := make(map[string]bool)
	model.Walk(list, func(cm *model.Comment, _ int) bool {
		if cm.Nonce != "" {
			confirmedNonces[cm.Nonce] = true
		}
		return true
	})

	delete(c.comments, postID)
	delete(c.orphans, postID)
	for _, cm := range list {
		c.insertLocked(postID, cm.Clone())
	}
	kept := 0
	for _, cm := range provisional {
		if !confirmedNonces[cm.ID] {
			c.insertLocked(postID, cm)
			kept++
		}
	}
	change, ls := c.commitLocked(ReasonComments, postID)
	c.mu.Unlock()
	notify(ls, change)
	return kept
}

// DropComments forgets the tree and buffered replies of a post.
func (c *Collection) DropComments(postID string) {
	c.mu.Lock()
	delete(c.comments, postID)
	delete(c.orphans, postID)
	change, ls := c.commitLocked(ReasonComments, postID)
	c.mu.Unlock()
	notify(ls, change)
}
