// Package twiml 把回合循环的输出渲染成 Twilio 的通话控制标记。
// 渲染是纯函数：相同输入产生逐字节相同的标记（encoding/xml 输出确定）。
package twiml

import "encoding/xml"

// Header 是每个 TwiML 文档的 XML 声明。
const Header = `<?xml version="1.0" encoding="UTF-8"?>`

// Voice 语音合成的声音与语言。
type Voice struct {
	Name     string
	Language string
}

// Say 朗读一段文本。
type Say struct {
	XMLName  xml.Name `xml:"Say"`
	Voice    string   `xml:"voice,attr,omitempty"`
	Language string   `xml:"language,attr,omitempty"`
	Text     string   `xml:",chardata"`
}

// Gather 收音指令：捕获语音并把识别结果回投到 Action 路由。
type Gather struct {
	XMLName       xml.Name `xml:"Gather"`
	Input         string   `xml:"input,attr"`
	SpeechTimeout string   `xml:"speechTimeout,attr"`
	SpeechModel   string   `xml:"speechModel,attr,omitempty"`
	Language      string   `xml:"language,attr,omitempty"`
	Action        string   `xml:"action,attr"`
	Method        string   `xml:"method,attr"`
}

// Record 录音指令。
type Record struct {
	XMLName                       xml.Name `xml:"Record"`
	Action                        string   `xml:"action,attr"`
	Method                        string   `xml:"method,attr"`
	MaxLength                     int      `xml:"maxLength,attr"`
	PlayBeep                      bool     `xml:"playBeep,attr"`
	Transcribe                    bool     `xml:"transcribe,attr"`
	RecordingStatusCallback       string   `xml:"recordingStatusCallback,attr,omitempty"`
	RecordingStatusCallbackMethod string   `xml:"recordingStatusCallbackMethod,attr,omitempty"`
}

// Redirect 把通话控制重定向到另一个路由。
type Redirect struct {
	XMLName xml.Name `xml:"Redirect"`
	URL     string   `xml:",chardata"`
}

// Hangup 挂断通话。
type Hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

func (v Voice) say(text string) Say {
	return Say{Voice: v.Name, Language: v.Language, Text: text}
}

// conversationResponse 的结构固定：朗读 → 收音 → 超时兜底重问 → 自重定向。
// 只有朗读文本随状态变化。
type conversationResponse struct {
	XMLName  xml.Name `xml:"Response"`
	Say      Say
	Gather   Gather
	Reprompt Say
	Redirect Redirect
}

type goodbyeResponse struct {
	XMLName xml.Name `xml:"Response"`
	Say     Say
	Hangup  Hangup
}

type sayResponse struct {
	XMLName xml.Name `xml:"Response"`
	Say     Say
}

type recordPromptResponse struct {
	XMLName  xml.Name `xml:"Response"`
	Say      Say
	Record   Record
	Fallback Say
}

type recordReplyResponse struct {
	XMLName xml.Name `xml:"Response"`
	Say     Say
	More    Say
	Record  Record
}

// Conversation 渲染一轮对话回复：朗读 utterance，然后在同一路由上重新布防收音；
// 收音超时则播报 reprompt 并自重定向回 action，循环继续。
func Conversation(utterance, reprompt string, v Voice, action string) string {
	return render(conversationResponse{
		Say: v.say(utterance),
		Gather: Gather{
			Input:         "speech",
			SpeechTimeout: "auto",
			SpeechModel:   "experimental_conversations",
			Language:      v.Language,
			Action:        action,
			Method:        "POST",
		},
		Reprompt: v.say(reprompt),
		Redirect: Redirect{URL: action},
	})
}

// Goodbye 渲染通话结束语：朗读后挂断，不再收音。
func Goodbye(utterance string, v Voice) string {
	return render(goodbyeResponse{
		Say:    v.say(utterance),
		Hangup: Hangup{},
	})
}

// SayOnly 只朗读一段文本。
func SayOnly(text string, v Voice) string {
	return render(sayResponse{Say: v.say(text)})
}

// RecordPrompt 渲染留言路径的开场：问候后开始录音，录不到则播报兜底提示。
func RecordPrompt(greeting, fallback string, v Voice, action, statusCallback string) string {
	return render(recordPromptResponse{
		Say: v.say(greeting),
		Record: Record{
			Action:                        action,
			Method:                        "POST",
			MaxLength:                     60,
			PlayBeep:                      true,
			RecordingStatusCallback:       statusCallback,
			RecordingStatusCallbackMethod: "POST",
		},
		Fallback: v.say(fallback),
	})
}

// RecordReply 渲染留言路径的回复：朗读 agent 的回答，提示可继续留言并再次录音。
func RecordReply(reply, morePrompt string, v Voice, action string) string {
	return render(recordReplyResponse{
		Say:  v.say(reply),
		More: v.say(morePrompt),
		Record: Record{
			Action:    action,
			Method:    "POST",
			MaxLength: 60,
			PlayBeep:  true,
		},
	})
}

func render(doc any) string {
	// 这里的结构体都是固定字段的静态类型，Marshal 不会失败。
	out, _ := xml.Marshal(doc)
	return Header + string(out)
}
