//go:build windows

package webgpu

import (
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/kestrel-ml/kestrel/internal/solver"
)

// compileShader compiles WGSL shader code into a ShaderModule.
// Results are cached in the Backend's shaders map.
func (b *Backend) compileShader(name, code string) *wgpu.ShaderModule {
	b.mu.RLock()
	if shader, exists := b.shaders[name]; exists {
		b.mu.RUnlock()
		return shader
	}
	b.mu.RUnlock()

	shader := b.device.CreateShaderModuleWGSL(code)

	b.mu.Lock()
	b.shaders[name] = shader
	b.mu.Unlock()

	return shader
}

// getOrCreatePipeline returns a cached ComputePipeline or creates a new one
// with an auto layout.
func (b *Backend) getOrCreatePipeline(name string, shader *wgpu.ShaderModule) *wgpu.ComputePipeline {
	b.mu.RLock()
	if pipeline, exists := b.pipelines[name]; exists {
		b.mu.RUnlock()
		return pipeline
	}
	b.mu.RUnlock()

	pipeline := b.device.CreateComputePipelineSimple(nil, shader, "main")

	b.mu.Lock()
	b.pipelines[name] = pipeline
	b.mu.Unlock()

	return pipeline
}

// createBuffer creates a GPU storage buffer and uploads data through
// MappedAtCreation.
func (b *Backend) createBuffer(data []byte, usage wgpu.BufferUsage) *wgpu.Buffer {
	size := uint64(len(data))

	buffer := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            usage,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})

	mappedPtr := buffer.GetMappedRange(0, size)
	mappedSlice := unsafe.Slice((*byte)(mappedPtr), size)
	copy(mappedSlice, data)
	buffer.Unmap()

	return buffer
}

// createOutputBuffer allocates an uninitialized storage buffer for results.
func (b *Backend) createOutputBuffer(size uint64) *wgpu.Buffer {
	return b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
}

// createUniformBuffer creates a uniform buffer with 16-byte alignment.
func (b *Backend) createUniformBuffer(data []byte) *wgpu.Buffer {
	size := uint64(len(data))
	alignedSize := (size + 15) &^ 15

	buffer := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		Size:             alignedSize,
		MappedAtCreation: wgpu.True,
	})

	mappedPtr := buffer.GetMappedRange(0, alignedSize)
	mappedSlice := unsafe.Slice((*byte)(mappedPtr), alignedSize)
	copy(mappedSlice, data)
	buffer.Unmap()

	return buffer
}

// readBuffer reads data back from a GPU buffer through a staging buffer,
// since storage buffers can't be mapped directly.
func (b *Backend) readBuffer(srcBuffer *wgpu.Buffer, size uint64) ([]byte, error) {
	stagingBuffer := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
	defer stagingBuffer.Release()

	encoder := b.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(srcBuffer, 0, stagingBuffer, 0, size)
	cmdBuffer := encoder.Finish(nil)
	b.queue.Submit(cmdBuffer)

	err := stagingBuffer.MapAsync(b.device, wgpu.MapModeRead, 0, size)
	if err != nil {
		return nil, fmt.Errorf("webgpu: failed to map staging buffer: %w", err)
	}

	mappedPtr := stagingBuffer.GetMappedRange(0, size)
	mappedSlice := unsafe.Slice((*byte)(mappedPtr), size)
	result := make([]byte, size)
	copy(result, mappedSlice)

	stagingBuffer.Unmap()

	return result, nil
}

// binding pairs a storage buffer with its bound byte size.
type binding struct {
	buf  *wgpu.Buffer
	size uint64
}

// dispatch runs one compute pass of the launch configuration over the bound
// buffers, in binding order. The uniform params buffer binds last.
func (b *Backend) dispatch(shaderCode string, cfg solver.LaunchConfig, storage []binding, params []byte) error {
	shader := b.compileShader(cfg.KernelName, shaderCode)
	pipeline := b.getOrCreatePipeline(cfg.KernelName, shader)

	paramsAligned := (uint64(len(params)) + 15) &^ 15
	bufferParams := b.createUniformBuffer(params)
	defer bufferParams.Release()

	entries := make([]wgpu.BindGroupEntry, 0, len(storage)+1)
	for i, s := range storage {
		entries = append(entries, wgpu.BufferBindingEntry(uint32(i), s.buf, 0, s.size))
	}
	entries = append(entries, wgpu.BufferBindingEntry(uint32(len(storage)), bufferParams, 0, paramsAligned))

	bindGroupLayout := pipeline.GetBindGroupLayout(0)
	bindGroup := b.device.CreateBindGroupSimple(bindGroupLayout, entries)
	defer bindGroup.Release()

	encoder := b.device.CreateCommandEncoder(nil)
	computePass := encoder.BeginComputePass(nil)
	computePass.SetPipeline(pipeline)
	computePass.SetBindGroup(0, bindGroup, nil)
	computePass.DispatchWorkgroups(cfg.GridX, cfg.GridY, cfg.GridZ)
	computePass.End()

	cmdBuffer := encoder.Finish(nil)
	b.queue.Submit(cmdBuffer)
	return nil
}

// paramsBuf packs uniform parameters as little-endian 4-byte words.
type paramsBuf struct{ data []byte }

func (p *paramsBuf) putU32(v uint32) {
	p.data = binary.LittleEndian.AppendUint32(p.data, v)
}

func (p *paramsBuf) putI32(v int32) { p.putU32(uint32(v)) }

func (p *paramsBuf) putF32(v float32) { p.putU32(math.Float32bits(v)) }

func (p *paramsBuf) putBool(v bool) {
	if v {
		p.putU32(1)
	} else {
		p.putU32(0)
	}
}

// bytes returns the packed words padded to 16-byte alignment.
func (p *paramsBuf) bytes() []byte {
	for len(p.data)%16 != 0 {
		p.data = append(p.data, 0)
	}
	return p.data
}
