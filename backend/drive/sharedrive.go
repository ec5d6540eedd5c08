package drive

import (
	"context"
	"fmt"
	"strings"

	"github.com/dansasser/ftp-winmount/pkg/remote"
)

// resolveSharedDrive accepts either an opaque shared-drive ID or a display
// name, resolving the latter via a single Drives.List call at connect
// time. Any value without a space is returned unchanged as an ID; only a
// value containing a space is looked up by name, so a single-word display
// name is not resolved.
func (s *Store) resolveSharedDrive(ctx context.Context, idOrName string) (string, error) {
	if !strings.Contains(idOrName, " ") {
		return idOrName, nil
	}
	list, err := s.svc.Drives.List().
		Context(ctx).
		Q(fmt.Sprintf("name = '%s'", escapeName(idOrName))).
		Fields("drives(id,name)").
		Do()
	if err != nil {
		return "", err
	}
	if len(list.Drives) == 0 {
		return "", remote.NewError("connect", idOrName, remote.KindNotFound, fmt.Errorf("no shared drive named %q", idOrName))
	}
	return list.Drives[0].Id, nil
}
