package backend

// Module names understood by the backend dispatch endpoint.
const (
	ModSignup                           = "signup"
	ModLogin                            = "login"
	ModGetOrCreateDMConversation        = "getOrCreateDMConversation"
	ModGetOrCreateCommunityConversation = "getOrCreateCommunityConversation"
	ModGetMessages                      = "getMessages"
	ModSendMessage                      = "sendMessage"
	ModGetCommunity                     = "getCommunity"
	ModGetConversationMembers           = "getConversationMembers"
	ModGetCommunityMembers              = "getCommunityMembers"
	ModGetUser                          = "getUser"
	ModGetContacts                      = "getContacts"
	ModGetCommunities                   = "getCommunities"
	ModGetEvents                        = "getEvents"
	ModGetProfile                       = "getProfile"
)
