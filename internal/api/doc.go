// Package api exposes the HTTP endpoints of the streaming gateway: folder
// enumeration, track listings, media streaming with range support, and
// per-folder logout. Authentication decisions are delegated to the auth gate;
// byte serving is delegated to the streamer.
package api
