package github

import "time"

type User struct {
	Login string `json:"login"`
	Name  string `json:"name"`
}

// DisplayName prefers the profile name over the login.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Login
}

type Asset struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	Size               int64  `json:"size"`
	ContentType        string `json:"content_type"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

type Release struct {
	ID          int64     `json:"id"`
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	Body        string    `json:"body"`
	Draft       bool      `json:"draft"`
	Prerelease  bool      `json:"prerelease"`
	HTMLURL     string    `json:"html_url"`
	UploadURL   string    `json:"upload_url"`
	CreatedAt   time.Time `json:"created_at"`
	PublishedAt time.Time `json:"published_at"`
	Assets      []Asset   `json:"assets"`
}

type NewRelease struct {
	TagName         string `json:"tag_name"`
	TargetCommitish string `json:"target_commitish,omitempty"`
	Name            string `json:"name"`
	Body            string `json:"body"`
	Draft           bool   `json:"draft"`
	Prerelease      bool   `json:"prerelease"`
	MakeLatest      string `json:"make_latest,omitempty"`
}

type WorkflowRun struct {
	ID int64 `json:"id"`
}

type Artifact struct {
	ID                 int64       `json:"id"`
	Name               string      `json:"name"`
	SizeInBytes        int64       `json:"size_in_bytes"`
	ArchiveDownloadURL string      `json:"archive_download_url"`
	Expired            bool        `json:"expired"`
	WorkflowRun        WorkflowRun `json:"workflow_run"`
}

type artifactList struct {
	TotalCount int        `json:"total_count"`
	Artifacts  []Artifact `json:"artifacts"`
}

type Cache struct {
	ID          int64  `json:"id"`
	Key         string `json:"key"`
	Ref         string `json:"ref"`
	SizeInBytes int64  `json:"size_in_bytes"`
}

type cacheList struct {
	TotalCount    int     `json:"total_count"`
	ActionsCaches []Cache `json:"actions_caches"`
}
