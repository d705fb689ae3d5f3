package backend

import (
	"context"
	"fmt"

	"github.com/relabs-tech/kumii/core/backend/kss"
	"github.com/relabs-tech/kumii/core/logger"
	"github.com/relabs-tech/kumii/core/store"
)

func (b *Backend) configureKSS(config kss.Configuration) error {
	logger.Default().Info("KSS in use with driver ", config.DriverType)

	switch config.DriverType {
	case kss.DriverTypeLocal:
		if config.LocalConfiguration == nil {
			return fmt.Errorf("kss expecting a configuration for local KSS, but got nothing")
		}
		local := *config.LocalConfiguration
		if local.PublicURL == "" {
			local.PublicURL = b.config.PublicURL
		}
		drv, err := kss.NewLocalFilesystem(b.router, local, nil)
		if err != nil {
			return fmt.Errorf("cannot create new Local KSS driver %w", err)
		}
		b.storage = drv
	case kss.DriverTypeAWSS3:
		if config.S3Configuration == nil {
			return fmt.Errorf("kss expecting a configuration for S3 KSS, but got nothing")
		}
		drv, err := kss.NewS3(*config.S3Configuration)
		if err != nil {
			return fmt.Errorf("cannot create new S3 KSS driver %w", err)
		}
		b.storage = drv
	case kss.None:
		logger.Default().Info("KSS not in use")
	default:
		return fmt.Errorf("unknown kss driver type: %s", config.DriverType)
	}
	return nil
}

// withAttachmentURLs fills in the download URLs of all attachments of the messages
func (b *Backend) withAttachmentURLs(ctx context.Context, messages []store.Message) {
	if b.storage == nil {
		return
	}
	for i := range messages {
		for j := range messages[i].Attachments {
			a := &messages[i].Attachments[j]
			url, err := b.storage.URL(ctx, a.StorageKey)
			if err != nil {
				logger.FromContext(ctx).WithError(err).Errorln("Error 4301: cannot sign attachment url", a.ID)
				continue
			}
			a.URL = url
		}
	}
}
