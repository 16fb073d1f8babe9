// Package accel holds the accelerated implementations behind the dispatcher.
//
// Every function takes the *device.Queue chosen by the dispatcher. Heavy
// kernels (pairwise distances, Gram matrices) go through the queue so they
// run on the selected device; the remaining element-wise work uses SIMD
// vector routines on the host. Inputs are always dense float64; callers
// convert results back to the caller's element type.
package accel
