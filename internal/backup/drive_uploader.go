package backup

import (
	"bytes"
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const (
	folderMimeType = "application/vnd.google-apps.folder"
	jsonMimeType   = "application/json"
)

// DriveUploader stores backup files in one Google Drive folder.
type DriveUploader struct {
	service  *drive.Service
	folderID string
}

func NewDriveUploader(ctx context.Context, credentialsJSON []byte, folderName string) (*DriveUploader, error) {
	// https://github.com/googleapis/google-api-go-client/blob/master/drive/v3/drive-gen.go
	driveService, err := drive.NewService(ctx, option.WithCredentialsJSON(credentialsJSON))
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve drive client: %w", err)
	}
	return newDriveUploader(ctx, driveService, folderName)
}

func newDriveUploader(ctx context.Context, driveService *drive.Service, folderName string) (*DriveUploader, error) {
	query := fmt.Sprintf("mimeType = '%s' and trashed = false and name = '%s'", folderMimeType, folderName)
	folders, err := driveService.
		Files.List().
		Q(query).
		Fields("files(id, name)").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("unable to list backup folders: %w", err)
	}

	u := &DriveUploader{service: driveService}
	switch len(folders.Files) {
	case 0:
		log.Printf("backups folder [%s] not found, creating it", folderName)
		folder, err := driveService.
			Files.Create(&drive.File{Name: folderName, MimeType: folderMimeType}).
			Fields("id").
			Context(ctx).
			Do()
		if err != nil {
			return nil, fmt.Errorf("create backups folder: %w", err)
		}
		u.folderID = folder.Id
	case 1:
		u.folderID = folders.Files[0].Id
	default:
		log.Warnf("found %d backups folders named [%s], using the first one", len(folders.Files), folderName)
		u.folderID = folders.Files[0].Id
	}

	log.Debugf("using backups folder: %s", u.folderID)
	return u, nil
}

func (u *DriveUploader) FolderID() string {
	return u.folderID
}

// Upload creates a new file in the backups folder and returns its id.
func (u *DriveUploader) Upload(ctx context.Context, name string, data []byte) (string, error) {
	fileMeta := &drive.File{
		Name:     name,
		MimeType: jsonMimeType,
		Parents:  []string{u.folderID},
	}

	created, err := u.service.
		Files.Create(fileMeta).
		Fields("id, parents").
		Media(bytes.NewReader(data)).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("%s: create backup file: %w", name, err)
	}

	log.Printf("backup file [%s] saved: %s", name, created.Id)
	return created.Id, nil
}
