//go:build windows

// Package webgpu runs the device kernels through WebGPU using go-webgpu
// (github.com/go-webgpu/webgpu) for zero-CGO bindings. Transfers are
// synchronous: each op uploads its operands, dispatches one compute pass,
// and reads the result back through a staging buffer.
package webgpu

import (
	"fmt"
	"sync"

	"github.com/go-webgpu/webgpu/wgpu"
)

// Backend owns the WebGPU device and the shader/pipeline caches.
type Backend struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	shaders   map[string]*wgpu.ShaderModule
	pipelines map[string]*wgpu.ComputePipeline
	mu        sync.RWMutex

	adapterInfo *wgpu.AdapterInfo
}

// New creates a WebGPU backend.
// Returns an error if WebGPU is not available or initialization fails.
func New() (backend *Backend, err error) {
	// Recover from panic if the wgpu_native library is not found, so the
	// driver can fall back to the host path.
	defer func() {
		if r := recover(); r != nil {
			backend = nil
			err = fmt.Errorf("webgpu: native library not available: %v", r)
		}
	}()

	instance := wgpu.CreateInstance(nil)
	adapter, adapterErr := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if adapterErr != nil {
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to request adapter: %w", adapterErr)
	}

	adapterInfo := adapter.GetInfo()

	device, deviceErr := adapter.RequestDevice(nil)
	if deviceErr != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to request device: %w", deviceErr)
	}

	queue := device.GetQueue()
	if queue == nil {
		device.Release()
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to get queue")
	}

	return &Backend{
		instance:    instance,
		adapter:     adapter,
		device:      device,
		queue:       queue,
		shaders:     make(map[string]*wgpu.ShaderModule),
		pipelines:   make(map[string]*wgpu.ComputePipeline),
		adapterInfo: &adapterInfo,
	}, nil
}

// IsAvailable reports whether a WebGPU device can be created on this system.
func IsAvailable() bool {
	b, err := New()
	if err != nil {
		return false
	}
	b.Release()
	return true
}

// AdapterName returns the name of the selected GPU adapter.
func (b *Backend) AdapterName() string {
	if b.adapterInfo == nil {
		return "unknown"
	}
	return b.adapterInfo.Device
}

// Release frees all WebGPU resources. The backend must not be used after.
func (b *Backend) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, p := range b.pipelines {
		p.Release()
	}
	b.pipelines = nil
	for _, s := range b.shaders {
		s.Release()
	}
	b.shaders = nil

	if b.device != nil {
		b.device.Release()
		b.device = nil
	}
	if b.adapter != nil {
		b.adapter.Release()
		b.adapter = nil
	}
	if b.instance != nil {
		b.instance.Release()
		b.instance = nil
	}
}
