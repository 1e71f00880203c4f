package main

// AvatarRef resolves a player's display avatar reference for a room.
// Actual avatar storage and lookup live outside the engine; the
// default is a deterministic path and deployments swap in their own
// resolver before the hub starts.
var AvatarRef = func(player, roomID string) string {
	return "/avatars/" + player + ".png"
}
