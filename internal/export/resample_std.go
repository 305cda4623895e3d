//go:build !govips || !cgo

package export

func Startup() error {
	return nil
}

func Shutdown() {}

func newResampler() Resampler {
	return DrawResampler{}
}
