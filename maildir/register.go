package maildir

import (
	"github.com/infodancer/mailfiler"
	"github.com/infodancer/mailfiler/errors"
)

func init() {
	mailfiler.Register("maildir", func(config mailfiler.StoreConfig) (mailfiler.FolderStore, error) {
		if config.Path == "" {
			return nil, errors.ErrStoreConfigInvalid
		}
		// create=false refuses to file into a folder that does not exist yet.
		create := config.Options["create"] != "false"
		return NewStore(config.Path, create), nil
	})
}
