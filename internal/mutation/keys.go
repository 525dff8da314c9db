package mutation

import "github.com/Socheema/Framez-sub000/store/conversation"

// Cache keys. Every write below lists the keys it stales; keep those lists
// in sync when adding a cached read.

func FollowersCountKey(userID string) string { return "follow:followers:" + userID }
func FollowingCountKey(userID string) string { return "follow:following:" + userID }
func FollowingListKey(userID string) string { return "follow:list:" + userID }
func IsFollowingKey(followerID, followingID string) string {
	return "follow:edge:" + followerID + ":" + followingID
}

func LikesCountKey(postID string) string { return "like:count:" + postID }
func HasLikedKey(userID, postID string) string { return "like:edge:" + userID + ":" + postID }
func ConversationListKey(userID string) string { return "conversation:list:" + userID }
func MessagesKey(conversationID string) string { return "message:list:" + conversationID }
func ConversationPairKey(a, b string) string {
	p1, p2 := conversation.Canonical(a, b)
	return "conversation:pair:" + p1 + ":" + p2
}

func followKeys(followerID, followingID string) []string {
	return []string{
		FollowersCountKey(followingID),
		FollowingCountKey(followerID),
		FollowingListKey(followerID),
		IsFollowingKey(followerID, followingID),
	}
}

func likeKeys(userID, postID string) []string {
	return []string{
		LikesCountKey(postID),
		HasLikedKey(userID, postID),
	}
}

func conversationKeys(conversationID string, participants ...string) []string {
	keys := []string{MessagesKey(conversationID)}
	for _, p := range participants {
		keys = append(keys, ConversationListKey(p))
	}
	return keys
}
