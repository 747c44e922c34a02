package service

import (
	"context"
	"fmt"
	"path"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-adp-archiver/internal/models"
)

type folderContentStore interface {
	ListFolderAttachments(ctx context.Context, folderID string) ([]models.Attachment, error)
	ListSubFolders(ctx context.Context, folderID string) ([]models.Folder, error)
}

// FolderVisitor receives each eligible attachment with the folder names
// leading to it, relative to the walk root.
type FolderVisitor func(entry ContentEntry, dirs []string) (bool, error)

// FolderWalker descends a folder tree, yielding the attachments the requester may download.
type FolderWalker struct {
	store  folderContentStore
	oracle capabilityOracle
	blobs  blobOpener
	logger *zap.Logger

	// OnRestrictedFolder, when set, is called for every hidden or locked
	// folder reached, whether or not its contents are included.
	OnRestrictedFolder func(folder models.Folder, dirs []string)
}

// NewFolderWalker constructs a walker.
func NewFolderWalker(store folderContentStore, oracle capabilityOracle, blobs blobOpener, logger *zap.Logger) *FolderWalker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FolderWalker{store: store, oracle: oracle, blobs: blobs, logger: logger}
}

// Walk visits root and every sub-folder the requester may read. A nil
// requester sees everything. It returns how many entries the visitor accepted.
func (w *FolderWalker) Walk(ctx context.Context, root *models.Folder, requester *models.User, visit FolderVisitor) (int, error) {
	seen := map[string]struct{}{}
	return w.walk(ctx, *root, nil, requester, visit, seen)
}

func (w *FolderWalker) walk(ctx context.Context, folder models.Folder, dirs []string, requester *models.User, visit FolderVisitor, seen map[string]struct{}) (int, error) {
	if _, ok := seen[folder.ID]; ok {
		return 0, nil
	}
	seen[folder.ID] = struct{}{}

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if w.OnRestrictedFolder != nil && folder.Restricted() {
		w.OnRestrictedFolder(folder, dirs)
	}

	attachments, err := w.eligibleAttachments(ctx, folder, requester)
	if err != nil {
		return 0, err
	}

	added := 0
	for _, a := range attachments {
		ok, err := w.allowed(ctx, requester, &a, models.CapDownload)
		if err != nil {
			return added, err
		}
		if !ok {
			continue
		}
		name := path.Join(append(append([]string{}, dirs...), pathSegment(a.Filename))...)
		accepted, err := visit(attachmentEntry(w.blobs, name, a), dirs)
		if err != nil {
			return added, err
		}
		if accepted {
			added++
		}
	}

	children, err := w.store.ListSubFolders(ctx, folder.ID)
	if err != nil {
		return added, fmt.Errorf("list sub-folders of %s: %w", folder.ID, err)
	}
	for _, child := range children {
		ok, err := w.allowed(ctx, requester, &child, models.CapReadContents)
		if err != nil {
			return added, err
		}
		if !ok {
			w.logger.Debug("skipping unreadable folder", zap.String("folder_id", child.ID))
			continue
		}
		childDirs := append(append([]string{}, dirs...), pathSegment(child.Name))
		n, err := w.walk(ctx, child, childDirs, requester, visit, seen)
		added += n
		if err != nil {
			return added, err
		}
	}
	return added, nil
}

func (w *FolderWalker) eligibleAttachments(ctx context.Context, folder models.Folder, requester *models.User) ([]models.Attachment, error) {
	all, err := w.store.ListFolderAttachments(ctx, folder.ID)
	if err != nil {
		return nil, fmt.Errorf("list attachments of folder %s: %w", folder.ID, err)
	}
	manage, err := w.allowed(ctx, requester, &models.Course{ID: folder.CourseID}, models.CapManageFiles)
	if err != nil {
		return nil, err
	}

	eligible := make([]models.Attachment, 0, len(all))
	for _, a := range all {
		if !a.Active() {
			continue
		}
		if !manage && !a.Visible() {
			continue
		}
		eligible = append(eligible, a)
	}
	return eligible, nil
}

func (w *FolderWalker) allowed(ctx context.Context, requester *models.User, resource any, capability models.Capability) (bool, error) {
	if requester == nil {
		return true, nil
	}
	ok, err := w.oracle.Grants(ctx, requester, resource, capability)
	if err != nil {
		return false, fmt.Errorf("check %s: %w", capability, err)
	}
	return ok, nil
}

func (z *ContentZipper) planFolder(ctx context.Context, job *models.ContentExport, requester *models.User, progress *ProgressReporter) (*archivePlan, error) {
	folder, err := z.deps.Content.GetFolder(ctx, job.ContextID)
	if err != nil {
		return nil, fmt.Errorf("load folder: %w", err)
	}
	course, err := z.deps.Content.GetCourse(ctx, folder.CourseID)
	if err != nil {
		return nil, fmt.Errorf("load course: %w", err)
	}

	title := fmt.Sprintf("%s-%s files", course.ShortName, folder.Name)
	return &archivePlan{
		name:  archiveName(title, "content-export-"+job.ID),
		title: title,
		produce: func(ctx context.Context, emit emitFunc) error {
			progress.Report(ctx, 0)
			_, err := z.walker.Walk(ctx, folder, requester, func(entry ContentEntry, _ []string) (bool, error) {
				return emit(entry)
			})
			if err != nil {
				return err
			}
			progress.Report(ctx, 100)
			return nil
		},
	}, nil
}
