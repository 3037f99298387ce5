package protocols

import "path"

// joinRel joins a root-relative directory and a child name.
func joinRel(dir, name string) string {
	if dir == "" {
		return name
	}
	return path.Join(dir, name)
}
