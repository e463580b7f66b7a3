package recorder

// WGSL sources for the fixed pipeline variants. All draw pipelines share
// the DrawPush block at group(1) binding(0); the two shadow pipelines
// share ShadowPush at group(0) binding(0).

const drawWGSL = `
struct Camera {
    view_proj : mat4x4<f32>,
    camera_pos : vec4<f32>,
    light_dir_ws : vec4<f32>,
    light_view_proj : mat4x4<f32>,
    shadow_params : vec4<f32>, // strength, bias_const, bias_slope, pcf_step
    shadow_misc : vec4<f32>,   // pcf_radius, 0, 0, 0
};

struct DrawPush {
    model : mat4x4<f32>,
    base_color : vec4<f32>,
    mode_pad : vec4<u32>,
};

@group(0) @binding(0) var<uniform> camera : Camera;
@group(0) @binding(1) var shadow_map : texture_depth_2d;
@group(0) @binding(2) var shadow_sampler : sampler_comparison;
@group(1) @binding(0) var<uniform> obj : DrawPush;

struct VSOut {
    @builtin(position) pos : vec4<f32>,
    @location(0) world_pos : vec3<f32>,
    @location(1) normal : vec3<f32>,
};

@vertex
fn vs_main(@location(0) in_pos : vec3<f32>, @location(1) in_normal : vec3<f32>) -> VSOut {
    var out : VSOut;
    let world = obj.model * vec4<f32>(in_pos, 1.0);
    out.pos = camera.view_proj * world;
    out.world_pos = world.xyz;
    out.normal = normalize((obj.model * vec4<f32>(in_normal, 0.0)).xyz);
    return out;
}

fn shadow_factor(world_pos : vec3<f32>) -> f32 {
    let clip = camera.light_view_proj * vec4<f32>(world_pos, 1.0);
    if (clip.w <= 0.0) {
        return 1.0;
    }
    let proj = clip.xyz / clip.w;
    let uv = proj.xy * vec2<f32>(0.5, -0.5) + vec2<f32>(0.5, 0.5);
    if (any(uv < vec2<f32>(0.0)) || any(uv > vec2<f32>(1.0)) || proj.z > 1.0) {
        return 1.0;
    }
    let bias = camera.shadow_params.y;
    let step = camera.shadow_params.w;
    let radius = camera.shadow_misc.x;
    var sum = 0.0;
    var taps = 0.0;
    var dy = -radius;
    loop {
        if (dy > radius) { break; }
        var dx = -radius;
        loop {
            if (dx > radius) { break; }
            sum = sum + textureSampleCompare(shadow_map, shadow_sampler,
                uv + vec2<f32>(dx, dy) * step, proj.z - bias);
            taps = taps + 1.0;
            dx = dx + 1.0;
        }
        dy = dy + 1.0;
    }
    let lit = sum / max(taps, 1.0);
    return mix(1.0, lit, camera.shadow_params.x);
}

@fragment
fn fs_main(in : VSOut) -> @location(0) vec4<f32> {
    let n = normalize(in.normal);
    let l = normalize(-camera.light_dir_ws.xyz);
    let ndotl = max(dot(n, l), 0.0);
    let shade = 0.15 + 0.85 * ndotl * shadow_factor(in.world_pos);
    return vec4<f32>(obj.base_color.rgb * shade, obj.base_color.a);
}

@fragment
fn fs_flat(in : VSOut) -> @location(0) vec4<f32> {
    return obj.base_color;
}
`

const shadowWGSL = `
struct ShadowPush {
    light_mvp : mat4x4<f32>,
};

@group(0) @binding(0) var<uniform> obj : ShadowPush;

@vertex
fn vs_shadow(@location(0) in_pos : vec3<f32>) -> @builtin(position) vec4<f32> {
    return obj.light_mvp * vec4<f32>(in_pos, 1.0);
}
`
