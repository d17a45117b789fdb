package archive

import (
	"context"
	"fmt"
	"os"
)

// Open selects an archive Store from environment variables.
//
//	DBIO_ARCHIVE_DRIVER: fs|s3|memory (default fs)
//	DBIO_ARCHIVE_FS_ROOT: directory root when driver=fs (default ./dbio-archive)
//	(S3 specific variables documented in s3.go)
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv("DBIO_ARCHIVE_DRIVER")
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return NewFSStore(os.Getenv("DBIO_ARCHIVE_FS_ROOT"))
	case DriverS3:
		return OpenS3FromEnv(ctx)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown archive driver %s", driver)
	}
}
