// Autoboard generates storyboard panels for a digital painting application
// by delegating image synthesis to a diffusion server. It speaks both the
// synchronous Automatic1111 REST protocol and the asynchronous ComfyUI
// queue protocol, turns the returned images into bitmaps, and hands them to
// the host document as new layers.
package autoboard
