package handler

import "github.com/gogpu/volren/device"

// constant is a small device buffer holding one marshaled snapshot.
// Uploads are stream-ordered, so work enqueued earlier keeps its values.
type constant struct {
	mem  device.Memory
	size int
}

func (c *constant) upload(r *device.Resource, b []byte) error {
	if c.mem == nil {
		m, err := r.Alloc(c.size)
		if err != nil {
			return err
		}
		c.mem = m
	}
	return r.Upload(c.mem, 0, b)
}

// free releases the buffer. The stream must be drained.
func (c *constant) free(r *device.Resource) {
	if c.mem == nil {
		return
	}
	if err := r.Free(c.mem); err != nil {
		slogger().Warn("handler: free constant buffer", "object", r.Label(), "err", err)
	}
	c.mem = nil
}
