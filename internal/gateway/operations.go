package gateway

// GraphQL documents. Field sets are the contract the reconcilers rely on.

const postFields = `
	_id
	author { _id username email imageUrl }
	caption
	tags
	location
	mediaUrls
	privacy
	likes { _id }
	saves { _id }
	likeCount
	saveCount
	commentCount
	viewCount
	createdAt`

const userFields = `
	_id
	username
	email
	phone
	bio
	imageUrl
	followersCount
	followingCount
	friendsCount`

const commentFields = `
	_id
	author { _id username imageUrl }
	post { _id }
	content
	parentComment { _id }
	likes { _id }
	createdAt`

const friendshipFields = `
	_id
	requester { _id }
	recipient { _id }
	status
	createdAt`

const (
	queryPost = `query Post($postId: String!) {
  post(id: $postId) {` + postFields + `
  }
}`

	queryPosts = `query Posts($cursor: String, $limit: Int) {
  posts(cursor: $cursor, limit: $limit) {
    edges { node {` + postFields + `
    } }
    pageInfo { hasNextPage endCursor }
  }
}`

	queryLikedPosts = `query LikedPosts($userId: String!) {
  likedPosts(userId: $userId) {` + postFields + `
  }
}`

	mutationToggleLikePost = `mutation ToggleLikePost($id: String!) {
  toggleLikePost(id: $id) { _id likeCount likes { _id } }
}`

	mutationToggleSavePost = `mutation ToggleSavePost($id: String!) {
  toggleSavePost(id: $id) { _id saveCount saves { _id } }
}`

	queryUser = `query User($userId: String!) {
  user(id: $userId) {` + userFields + `
  }
}`

	queryUsers = `query Users($cursor: String, $limit: Int) {
  users(cursor: $cursor, limit: $limit) {
    edges { node {` + userFields + `
    } }
    pageInfo { hasNextPage endCursor }
  }
}`

	queryIsFollowing = `query IsFollowing($userId: String!) {
  isFollowing(userId: $userId)
}`

	mutationFollowUser = `mutation FollowUser($userId: String!) {
  followUser(userId: $userId)
}`

	mutationUnfollow = `mutation Unfollow($userId: String!) {
  unfollow(userId: $userId)
}`

	queryFriendshipStatus = `query FriendshipStatus($userId: String!) {
  friendshipStatus(userId: $userId) {` + friendshipFields + `
  }
}`

	queryFriendRequests = `query FriendRequests {
  friendRequests {` + friendshipFields + `
  }
}`

	mutationAddFriend = `mutation AddFriend($userId: String!) {
  addFriend(userId: $userId) {` + friendshipFields + `
  }
}`

	mutationCancelFriendRequest = `mutation CancelFriendRequest($requestId: String!) {
  cancelFriendRequest(requestId: $requestId) {` + friendshipFields + `
  }
}`

	mutationAcceptFriendRequest = `mutation AcceptFriendRequest($requestId: String!) {
  acceptFriendRequest(requestId: $requestId) {` + friendshipFields + `
  }
}`

	mutationRejectFriendRequest = `mutation RejectFriendRequest($requestId: String!) {
  rejectFriendRequest(requestId: $requestId) {` + friendshipFields + `
  }
}`

	mutationUnfriend = `mutation Unfriend($userId: String!) {
  unfriend(userId: $userId)
}`

	queryComments = `query Comments($postId: String!) {
  comments(postId: $postId) {` + commentFields + `
  }
}`

	queryReplies = `query Replies($postId: String!, $parentCommentId: String!) {
  comments(postId: $postId, parentCommentId: $parentCommentId) {` + commentFields + `
  }
}`

	mutationAddComment = `mutation AddComment($input: AddCommentInput!) {
  addComment(input: $input) {` + commentFields + `
  }
}`

	mutationToggleLikeComment = `mutation ToggleLikeComment($id: String!) {
  toggleLikeComment(id: $id) { _id likes { _id } }
}`

	mutationDeleteComment = `mutation DeleteComment($id: String!) {
  deleteComment(id: $id) { _id }
}`
)
