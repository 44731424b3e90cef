package protocol

// SaveZkNote 保存笔记载荷。ID 为空表示新建。
type SaveZkNote struct {
	ID      string `json:"id,omitempty"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Public  bool   `json:"public"`
}

// SavedZkNote 保存结果。
type SavedZkNote struct {
	ID          string `json:"id"`
	ChangedDate int64  `json:"changeddate"`
}

// ZkNote 完整笔记。
type ZkNote struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	Public      bool   `json:"public"`
	UserName    string `json:"username"`
	IsFile      bool   `json:"isfile"`
	CreateDate  int64  `json:"createdate"`
	ChangedDate int64  `json:"changeddate"`
}

// ZkListNote 列表视图摘要。
type ZkListNote struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	IsFile      bool   `json:"isfile"`
	CreateDate  int64  `json:"createdate"`
	ChangedDate int64  `json:"changeddate"`
}

// ZkNoteSearch 搜索载荷。
type ZkNoteSearch struct {
	Query  string `json:"query"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// ZkNoteID 按外部 id 操作单条笔记的载荷。
type ZkNoteID struct {
	ID string `json:"id"`
}

// JobID 查询后台任务状态的载荷。
type JobID struct {
	ID int64 `json:"id"`
}
