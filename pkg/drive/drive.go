package drive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/drive/v3"

	"pi-timelapse/pkg/utils"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger()
}

const FolderMimeType = "application/vnd.google-apps.folder"

type MatchMode int

const (
	MatchExact MatchMode = iota
	// MatchContains takes the first folder whose name contains the query.
	// Which one is first is up to the service when several match.
	MatchContains
)

func (m MatchMode) String() string {
	if m == MatchContains {
		return "contains"
	}

	return "exact"
}

type Folder struct {
	ID   string
	Name string
}

// filesService is the subset of the Drive files API the client needs.
type filesService interface {
	list(ctx context.Context, q string) ([]*drive.File, error)
	createFolder(ctx context.Context, name string) (string, error)
	upload(ctx context.Context, name, parent string, media io.Reader) (string, error)
}

type Client struct {
	files filesService
}

func NewClient(svc *drive.Service) *Client {
	return &Client{files: &driveFiles{svc: svc}}
}

// FolderQuery builds the Drive search query for a folder name.
func FolderQuery(name string, mode MatchMode) string {
	escaped := strings.ReplaceAll(strings.ReplaceAll(name, `\`, `\\`), `'`, `\'`)
	op := "="
	if mode == MatchContains {
		op = "contains"
	}

	return fmt.Sprintf("mimeType = '%s' and name %s '%s' and trashed = false", FolderMimeType, op, escaped)
}

// FindFolder returns the first folder matching name, or nil when none does.
func (c *Client) FindFolder(ctx context.Context, name string, mode MatchMode) (*Folder, error) {
	files, err := c.files.list(ctx, FolderQuery(name, mode))
	if err != nil {
		return nil, fmt.Errorf("search folder %q err: %w", name, err)
	}
	if len(files) == 0 {
		return nil, nil
	}
	if len(files) > 1 {
		names := make([]string, 0, len(files))
		for _, f := range files {
			names = append(names, f.Name)
		}
		logger.Warnf("%d folders match %q (%s): %s, using %s", len(files), name, mode, strings.Join(names, ", "), files[0].Name)
	}

	return &Folder{ID: files[0].Id, Name: files[0].Name}, nil
}

func (c *Client) CreateFolder(ctx context.Context, name string) (*Folder, error) {
	id, err := c.files.createFolder(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("create folder %q err: %w", name, err)
	}
	logger.Infof("created drive folder %s (%s)", name, id)

	return &Folder{ID: id, Name: name}, nil
}

// EnsureFolder looks the folder up by exact name and creates it if absent.
// Two clients running this at once can both create it.
func (c *Client) EnsureFolder(ctx context.Context, name string) (*Folder, error) {
	folder, err := c.FindFolder(ctx, name, MatchExact)
	if err != nil {
		return nil, err
	}
	if folder != nil {
		return folder, nil
	}

	return c.CreateFolder(ctx, name)
}

// Upload stores the file at p into folder, or the drive root when folder is
// empty, and returns the new file id.
func (c *Client) Upload(ctx context.Context, p, folder string) (string, error) {
	var parent string
	if folder != "" {
		f, err := c.EnsureFolder(ctx, folder)
		if err != nil {
			return "", err
		}
		parent = f.ID
	}

	file, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer file.Close()

	id, err := c.files.upload(ctx, path.Base(p), parent, file)
	if err != nil {
		return "", fmt.Errorf("upload %s err: %w", p, err)
	}

	return id, nil
}

type driveFiles struct {
	svc *drive.Service
}

func (d *driveFiles) list(ctx context.Context, q string) ([]*drive.File, error) {
	res, err := d.svc.Files.List().Q(q).Fields("files(id, name)").PageSize(20).Context(ctx).Do()
	if err != nil {
		return nil, err
	}

	return res.Files, nil
}

func (d *driveFiles) createFolder(ctx context.Context, name string) (string, error) {
	f, err := d.svc.Files.Create(&drive.File{Name: name, MimeType: FolderMimeType}).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", err
	}

	return f.Id, nil
}

func (d *driveFiles) upload(ctx context.Context, name, parent string, media io.Reader) (string, error) {
	meta := &drive.File{Name: name}
	if parent != "" {
		meta.Parents = []string{parent}
	}
	f, err := d.svc.Files.Create(meta).Media(media).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", err
	}

	return f.Id, nil
}
