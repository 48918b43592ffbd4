package volren

import (
	"fmt"

	"github.com/gogpu/volren/host"
	"github.com/gogpu/volren/internal/parallel"
)

// convertScalars converts the samples of im to float32, one Z slice per
// work item. The values are kept in their native units, which is what the
// transfer-function ranges are expressed in.
func convertScalars(pool *parallel.WorkerPool, im host.Image) ([]float32, error) {
	switch k := im.ScalarKind(); k {
	case host.ScalarInt8:
		return convert[int8](pool, im)
	case host.ScalarUint8:
		return convert[uint8](pool, im)
	case host.ScalarInt16:
		return convert[int16](pool, im)
	case host.ScalarUint16:
		return convert[uint16](pool, im)
	case host.ScalarInt32:
		return convert[int32](pool, im)
	case host.ScalarUint32:
		return convert[uint32](pool, im)
	case host.ScalarInt64:
		return convert[int64](pool, im)
	case host.ScalarUint64:
		return convert[uint64](pool, im)
	case host.ScalarFloat32:
		return convert[float32](pool, im)
	case host.ScalarFloat64:
		return convert[float64](pool, im)
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedScalar, k)
	}
}

func convert[T host.Scalar](pool *parallel.WorkerPool, im host.Image) ([]float32, error) {
	src, ok := host.Samples[T](im)
	if !ok {
		return nil, fmt.Errorf("%w: %v image holds %T", ErrUnsupportedScalar, im.ScalarKind(), im.Scalars())
	}
	dims := im.Dimensions()
	slice := dims[0] * dims[1]
	if dims[0] <= 0 || dims[1] <= 0 || dims[2] <= 0 || len(src) != slice*dims[2] {
		return nil, fmt.Errorf("%w: %d samples for %v", ErrInvalidInput, len(src), dims)
	}

	out := make([]float32, len(src))
	pool.For(dims[2], 1, func(lo, hi int) {
		for i := lo * slice; i < hi*slice; i++ {
			out[i] = float32(src[i])
		}
	})
	return out, nil
}
