package gitops

import (
	"context"
	"fmt"
	"sync"

	"github.com/vitaliisemenov/guard/internal/platform"
)

// fakeProvider is an in-memory platform.GitOpsProvider. Files are keyed by
// "repo/path" and hold the content last written at "main"; branches record
// the ref they were cut from.
type fakeProvider struct {
	mu sync.Mutex

	files       map[string][]byte
	branches    map[string]string // repo/branch -> fromRef
	mrs         map[string]*platform.MergeRequest // repo/branch -> MR
	nextID      int
	createCalls int

	failCreateBranchFor map[string]bool
	failUpdateFileFor   map[string]bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		files:               make(map[string][]byte),
		branches:            make(map[string]string),
		mrs:                 make(map[string]*platform.MergeRequest),
		failCreateBranchFor: make(map[string]bool),
		failUpdateFileFor:   make(map[string]bool),
	}
}

func fileKey(repo, path string) string   { return repo + "/" + path }
func branchKey(repo, branch string) string { return repo + "/" + branch }

func (f *fakeProvider) setFile(repo, path string, content []byte) {
	f.files[fileKey(repo, path)] = content
}

func (f *fakeProvider) CreateBranch(ctx context.Context, repo, branch, fromRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreateBranchFor[branchKey(repo, branch)] {
		return fmt.Errorf("simulated create branch failure")
	}
	f.branches[branchKey(repo, branch)] = fromRef
	return nil
}

func (f *fakeProvider) CheckBranchExists(ctx context.Context, repo, branch string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.branches[branchKey(repo, branch)]
	return ok, nil
}

func (f *fakeProvider) GetFileContent(ctx context.Context, repo, path, ref string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.files[fileKey(repo, path)]
	if !ok {
		return nil, fmt.Errorf("file not found: %s/%s", repo, path)
	}
	return content, nil
}

func (f *fakeProvider) UpdateFile(ctx context.Context, repo, path, branch string, content []byte, commitMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpdateFileFor[fileKey(repo, path)] {
		return fmt.Errorf("simulated update file failure")
	}
	f.files[fileKey(repo, path)] = content
	return nil
}

func (f *fakeProvider) CreateMergeRequest(ctx context.Context, repo, sourceBranch, targetBranch, title, description string, draft bool) (*platform.MergeRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := branchKey(repo, sourceBranch)
	if existing, ok := f.mrs[key]; ok {
		return existing, nil
	}
	f.createCalls++
	f.nextID++
	mr := &platform.MergeRequest{
		ID:           f.nextID,
		IID:          f.nextID,
		Title:        title,
		Description:  description,
		SourceBranch: sourceBranch,
		TargetBranch: targetBranch,
		State:        "opened",
		WebURL:       fmt.Sprintf("https://gitlab.example.com/%s/-/merge_requests/%d", repo, f.nextID),
	}
	f.mrs[key] = mr
	return mr, nil
}

func (f *fakeProvider) GetMergeRequest(ctx context.Context, repo string, iid int) (*platform.MergeRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, mr := range f.mrs {
		if mr.IID == iid {
			return mr, nil
		}
	}
	return nil, fmt.Errorf("not found")
}

func (f *fakeProvider) AddMergeRequestComment(ctx context.Context, repo string, iid int, comment string) error {
	return nil
}
