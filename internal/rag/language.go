package rag

// DetectLanguage 简易语种识别（印地语/乌尔都语/英语）
// 天城文或阿拉伯文字符占比超过 30% 时判定为对应语种，否则按英语处理
func DetectLanguage(text string) string {
	runes := []rune(text)
	total := len(runes)
	if total == 0 {
		return "en"
	}

	hindi := 0
	urdu := 0
	for _, r := range runes {
		switch {
		case r >= 0x0900 && r <= 0x097F: // 天城文
			hindi++
		case r >= 0x0600 && r <= 0x06FF: // 阿拉伯文
			urdu++
		}
	}

	if float64(hindi)/float64(total) > 0.3 {
		return "hi"
	}
	if float64(urdu)/float64(total) > 0.3 {
		return "ur"
	}
	return "en"
}

// 检索无果时按语种返回的固定回复
var outOfScopeResponses = map[string]string{
	"en": "I don't have enough information in my NCERT knowledge base to answer this question accurately. Please try asking about topics covered in NCERT textbooks for grades 5-12.",
	"hi": "मेरे पास इस प्रश्न का सटीक उत्तर देने के लिए NCERT पाठ्यपुस्तकों में पर्याप्त जानकारी नहीं है। कृपया कक्षा 5-12 की NCERT पुस्तकों में शामिल विषयों के बारे में पूछें।",
	"ur": "میرے پاس اس سوال کا درست جواب دینے کے لیے NCERT نصابی کتابوں میں کافی معلومات نہیں ہیں۔ براہ کرم جماعت 5-12 کی NCERT کتابوں میں شامل موضوعات کے بارے میں پوچھیں۔",
}

// OutOfScopeResponse 返回指定语种的超纲回复，未知语种回退英语
func OutOfScopeResponse(language string) string {
	if resp, ok := outOfScopeResponses[language]; ok {
		return resp
	}
	return outOfScopeResponses["en"]
}
