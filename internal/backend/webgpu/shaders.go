//go:build windows

package webgpu

// WGSL compute shaders for the device kernels.
// Using string constants instead of embed for simplicity.

// workgroupSize is the default number of threads per workgroup.
const workgroupSize = 256

// bnFwdInferPerActShader normalizes with estimated statistics in the
// per-activation layout: one thread per (c,h,w) position, inner loop over
// the batch. Statistics buffers are sized C*H*W.
const bnFwdInferPerActShader = `
@group(0) @binding(0) var<storage, read> x: array<f32>;
@group(0) @binding(1) var<storage, read> scale: array<f32>;
@group(0) @binding(2) var<storage, read> bias: array<f32>;
@group(0) @binding(3) var<storage, read> est_mean: array<f32>;
@group(0) @binding(4) var<storage, read> est_var: array<f32>;
@group(0) @binding(5) var<storage, read_write> y: array<f32>;

struct Params {
    n: u32,
    chw: u32,
    epsilon: f32,
}
@group(0) @binding(6) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let g = global_id.x;
    if (g >= params.chw) {
        return;
    }
    let mean = est_mean[g];
    let inv_std = inverseSqrt(est_var[g] + params.epsilon);
    let gamma = scale[g];
    let beta = bias[g];
    for (var e: u32 = 0u; e < params.n; e = e + 1u) {
        let idx = e * params.chw + g;
        y[idx] = gamma * (x[idx] - mean) * inv_std + beta;
    }
}
`

// bnFwdInferSpatialShader normalizes with estimated statistics in the
// spatial layout: one thread per (c,h,w) position reading channel-indexed
// statistics, inner loop over the batch. Statistics buffers are sized C.
const bnFwdInferSpatialShader = `
@group(0) @binding(0) var<storage, read> x: array<f32>;
@group(0) @binding(1) var<storage, read> scale: array<f32>;
@group(0) @binding(2) var<storage, read> bias: array<f32>;
@group(0) @binding(3) var<storage, read> est_mean: array<f32>;
@group(0) @binding(4) var<storage, read> est_var: array<f32>;
@group(0) @binding(5) var<storage, read_write> y: array<f32>;

struct Params {
    n: u32,
    chw: u32,
    hw: u32,
    epsilon: f32,
}
@group(0) @binding(6) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let pos = global_id.x;
    if (pos >= params.chw) {
        return;
    }
    let c = pos / params.hw;
    let mean = est_mean[c];
    let inv_std = inverseSqrt(est_var[c] + params.epsilon);
    let gamma = scale[c];
    let beta = bias[c];
    for (var e: u32 = 0u; e < params.n; e = e + 1u) {
        let idx = e * params.chw + pos;
        y[idx] = gamma * (x[idx] - mean) * inv_std + beta;
    }
}
`

// whereFwdShader selects input or other per element; operands may be
// broadcast views, addressed with modulo index arithmetic.
const whereFwdShader = `
@group(0) @binding(0) var<storage, read> cond: array<u32>;
@group(0) @binding(1) var<storage, read> input: array<f32>;
@group(0) @binding(2) var<storage, read> other: array<f32>;
@group(0) @binding(3) var<storage, read_write> result: array<f32>;

struct Params {
    size: u32,
    cond_size: u32,
    input_size: u32,
    other_size: u32,
}
@group(0) @binding(4) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    if (idx < params.size) {
        if (cond[idx % params.cond_size] != 0u) {
            result[idx] = input[idx % params.input_size];
        } else {
            result[idx] = other[idx % params.other_size];
        }
    }
}
`

// whereBwdShader routes the output gradient by condition. Gradient buffers
// must be full-size (no broadcast; the solver rejects broadcast gradients).
const whereBwdShader = `
@group(0) @binding(0) var<storage, read> cond: array<u32>;
@group(0) @binding(1) var<storage, read> output_grad: array<f32>;
@group(0) @binding(2) var<storage, read_write> input_grad: array<f32>;
@group(0) @binding(3) var<storage, read_write> other_grad: array<f32>;

struct Params {
    size: u32,
    cond_size: u32,
}
@group(0) @binding(4) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    if (idx < params.size) {
        let g = output_grad[idx];
        if (cond[idx % params.cond_size] != 0u) {
            input_grad[idx] = g;
            other_grad[idx] = 0.0;
        } else {
            input_grad[idx] = 0.0;
            other_grad[idx] = g;
        }
    }
}
`

// nllLossUnreduceFwdShader gathers the weighted negative log-likelihood per
// (n, d1, d2) position. target uses i32; ignore_index positions emit 0.
const nllLossUnreduceFwdShader = `
@group(0) @binding(0) var<storage, read> input: array<f32>;
@group(0) @binding(1) var<storage, read> target: array<i32>;
@group(0) @binding(2) var<storage, read> weight: array<f32>;
@group(0) @binding(3) var<storage, read_write> output: array<f32>;

struct Params {
    size: u32,
    c: u32,
    d: u32,
    ignore_index: i32,
}
@group(0) @binding(4) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    if (idx >= params.size) {
        return;
    }
    let t = target[idx];
    if (t == params.ignore_index) {
        output[idx] = 0.0;
        return;
    }
    let n = idx / params.d;
    let dd = idx % params.d;
    let input_idx = (n * params.c + u32(t)) * params.d + dd;
    output[idx] = -weight[u32(t)] * input[input_idx];
}
`

// argminShader finds the index of the smallest element along the reduction
// dimension, first occurrence on ties. One thread per output slice.
const argminShader = `
@group(0) @binding(0) var<storage, read> input: array<f32>;
@group(0) @binding(1) var<storage, read_write> output: array<u32>;

struct Params {
    size: u32,
    reduce_size: u32,
    inner: u32,
}
@group(0) @binding(2) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let o = global_id.x;
    if (o >= params.size) {
        return;
    }
    let base = (o / params.inner) * params.reduce_size * params.inner + (o % params.inner);
    var best = input[base];
    var best_idx: u32 = 0u;
    for (var r: u32 = 1u; r < params.reduce_size; r = r + 1u) {
        let v = input[base + r * params.inner];
        if (v < best) {
            best = v;
            best_idx = r;
        }
    }
    output[o] = best_idx;
}
`

// adamStepShader applies step_count Adam updates per parameter, mirroring
// the host reference: bias-corrected moments, optional weight decay,
// maximize, AMSGrad max-tracking, and AMP gradient unscaling. found_inf
// skips are decided host-side before dispatch.
const adamStepShader = `
@group(0) @binding(0) var<storage, read_write> param: array<f32>;
@group(0) @binding(1) var<storage, read> grad_in: array<f32>;
@group(0) @binding(2) var<storage, read_write> exp_avg: array<f32>;
@group(0) @binding(3) var<storage, read_write> exp_avg_sq: array<f32>;
@group(0) @binding(4) var<storage, read_write> max_exp_avg_sq: array<f32>;

struct Params {
    size: u32,
    step_count: u32,
    amsgrad: u32,
    maximize: u32,
    lr: f32,
    beta1: f32,
    beta2: f32,
    eps: f32,
    weight_decay: f32,
    grad_scale: f32,
}
@group(0) @binding(5) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let i = global_id.x;
    if (i >= params.size) {
        return;
    }
    var p = param[i];
    var m = exp_avg[i];
    var v = exp_avg_sq[i];
    var v_max = max_exp_avg_sq[i];

    for (var step: u32 = 1u; step <= params.step_count; step = step + 1u) {
        var g = grad_in[i];
        if (params.maximize != 0u) {
            g = -g;
        }
        g = g / params.grad_scale;

        let bc1 = 1.0 - pow(params.beta1, f32(step));
        let bc2 = 1.0 - pow(params.beta2, f32(step));

        g = g + p * params.weight_decay;

        m = m * params.beta1 + g * (1.0 - params.beta1);
        v = v * params.beta2 + g * g * (1.0 - params.beta2);

        var denom: f32;
        if (params.amsgrad != 0u) {
            v_max = max(v_max, v);
            denom = sqrt(v_max) / sqrt(bc2) + params.eps;
        } else {
            denom = sqrt(v) / sqrt(bc2) + params.eps;
        }

        p = p - (params.lr / bc1) * m / denom;
    }

    param[i] = p;
    exp_avg[i] = m;
    exp_avg_sq[i] = v;
    if (params.amsgrad != 0u) {
        max_exp_avg_sq[i] = v_max;
    }
}
`
