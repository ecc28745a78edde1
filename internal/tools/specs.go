package tools

import (
	"encoding/json"
	"fmt"

	"chorus/internal/provider"
)

// WebSearchArgs are the arguments of web_search.
type WebSearchArgs struct {
	Q string `json:"q" jsonschema:"description=搜索关键词,required"`
}

// ParseLinkArgs are the arguments of parse_link.
type ParseLinkArgs struct {
	Link string `json:"link" jsonschema:"description=需要解析的网页链接,required"`
}

// DrawPictureArgs are the arguments of draw_picture.
type DrawPictureArgs struct {
	Prompt   string `json:"prompt" jsonschema:"description=Description of the picture in English. The more detailed the better.,required"`
	SizeType string `json:"sizeType" jsonschema:"description=square for a square picture and portrait for a vertical one. Default square.,enum=square|portrait"`
}

// AddNoteArgs are the arguments of add_note.
type AddNoteArgs struct {
	Title       string `json:"title" jsonschema:"description=笔记标题"`
	Description string `json:"description" jsonschema:"description=笔记内文,required"`
}

// AddTodoArgs are the arguments of add_todo.
type AddTodoArgs struct {
	Title string `json:"title" jsonschema:"description=待办事项标题,required"`
}

// AddCalendarArgs are the arguments of add_calendar.
type AddCalendarArgs struct {
	Title        string `json:"title" jsonschema:"description=标题"`
	Description  string `json:"description" jsonschema:"description=描述（内容）,required"`
	Date         string `json:"date" jsonschema:"description=日期，格式为 YYYY-MM-DD。该字段与 specificDate 互斥"`
	SpecificDate string `json:"specificDate" jsonschema:"description=特定日期: 今天、明天、后天或周几。该字段与 date 互斥,enum=today|tomorrow|day_after_tomorrow|monday|tuesday|wednesday|thursday|friday|saturday|sunday"`
	Time         string `json:"time" jsonschema:"description=时间，格式为 hh:mm"`
	EarlyMinute  string `json:"earlyMinute" jsonschema:"description=提前多少分钟提醒。0 表示准时提醒，1440 表示提前一天,enum=0|10|15|30|60|120|1440"`
	LaterHour    string `json:"laterHour" jsonschema:"description=从现在起多少小时后发生。0.5 表示三十分钟后。与 date、time、earlyMinute 互斥,enum=0.5|1|2|3|12|24"`
}

// GetScheduleArgs are the arguments of get_schedule.
type GetScheduleArgs struct {
	HoursFromNow string `json:"hoursFromNow" jsonschema:"description=最近几个小时内的日程。正数表示未来，负数表示过去,enum=-24|24|48"`
	SpecificDate string `json:"specificDate" jsonschema:"description=昨天、今天、明天、后天或某个周几的日程。不可与 hoursFromNow 同时指定,enum=yesterday|today|tomorrow|day_after_tomorrow|monday|tuesday|wednesday|thursday|friday|saturday|sunday"`
}

// GetCardsArgs are the arguments of get_cards.
type GetCardsArgs struct {
	CardType string `json:"cardType" jsonschema:"description=TODO 待办；FINISHED 已完成；ADD_RECENTLY 最近添加；EVENT 最近添加的带时间事件,required,enum=TODO|FINISHED|ADD_RECENTLY|EVENT"`
}

// MapsRegeoArgs are the arguments of maps_regeo.
type MapsRegeoArgs struct {
	Location string `json:"location" jsonschema:"description=经度在前、纬度在后，以英文逗号分隔,required"`
}

// MapsGeoArgs are the arguments of maps_geo.
type MapsGeoArgs struct {
	Address string `json:"address" jsonschema:"description=结构化地址,required"`
	City    string `json:"city" jsonschema:"description=所在城市"`
}

// MapsTextSearchArgs are the arguments of maps_text_search.
type MapsTextSearchArgs struct {
	Keywords string `json:"keywords" jsonschema:"description=查询关键词,required"`
	City     string `json:"city" jsonschema:"description=查询城市"`
}

// MapsAroundSearchArgs are the arguments of maps_around_search.
type MapsAroundSearchArgs struct {
	Location string `json:"location" jsonschema:"description=中心点经纬度,required"`
	Keywords string `json:"keywords" jsonschema:"description=查询关键词"`
	Radius   string `json:"radius" jsonschema:"description=搜索半径（米）"`
}

// MapsDirectionArgs are the arguments of maps_direction.
type MapsDirectionArgs struct {
	Origin      string `json:"origin" jsonschema:"description=起点经纬度,required"`
	Destination string `json:"destination" jsonschema:"description=终点经纬度,required"`
	Mode        string `json:"mode" jsonschema:"description=出行方式,enum=driving|walking|bicycling|transit"`
}

type spec struct {
	description string
	args        any
}

var specs = map[Tag]spec{
	AddNote:          {"添加笔记，其中必须包含内文，以及可选的标题。", AddNoteArgs{}},
	AddTodo:          {"添加待办", AddTodoArgs{}},
	AddCalendar:      {"添加: 提醒事项 / 日程 / 事件 / 任务", AddCalendarArgs{}},
	WebSearch:        {"搜索互联网，获取实时信息。", WebSearchArgs{}},
	ParseLink:        {"解析链接，获取网页的主要内容。", ParseLinkArgs{}},
	MapsRegeo:        {"将经纬度转换为详细的结构化地址。", MapsRegeoArgs{}},
	MapsGeo:          {"将结构化地址转换为经纬度。", MapsGeoArgs{}},
	MapsTextSearch:   {"根据关键词搜索地点。", MapsTextSearchArgs{}},
	MapsAroundSearch: {"搜索某个位置周边的地点。", MapsAroundSearchArgs{}},
	MapsDirection:    {"规划两点之间的出行路线。", MapsDirectionArgs{}},
	DrawPicture:      {"Draw a picture from a description.", DrawPictureArgs{}},
	GetSchedule:      {"获取最近的日程。不指定参数时返回未来 10 条日程。", GetScheduleArgs{}},
	GetCards:         {"获取待办、已完成或最近添加的事项（卡片）", GetCardsArgs{}},
}

// Describe returns the description and parameter schema of a tag.
func Describe(tag Tag) (string, map[string]any) {
	s, ok := specs[tag]
	if !ok {
		return "", nil
	}
	schema := BuildSchema(s.args)
	schema["additionalProperties"] = false
	return s.description, schema
}

// Definitions converts tags into the function definitions sent to backends,
// keeping their order.
func Definitions(tags []Tag) ([]provider.Tool, error) {
	out := make([]provider.Tool, 0, len(tags))
	for _, tag := range tags {
		desc, params := Describe(tag)
		if params == nil {
			return nil, NewToolNotFoundError(string(tag))
		}
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, NewInvalidArgsError(string(tag), "failed to marshal parameters", err)
		}
		out = append(out, provider.Tool{
			Type: "function",
			Function: provider.ToolFunction{
				Name:        string(tag),
				Description: desc,
				Parameters:  raw,
			},
		})
	}
	return out, nil
}

// Base returns the static part of the tool for tag.
func Base(tag Tag) (BaseTool, error) {
	desc, params := Describe(tag)
	if params == nil {
		return BaseTool{}, fmt.Errorf("%w: %s", ErrToolNotFound, tag)
	}
	return BaseTool{ToolName: string(tag), ToolDescription: desc, ToolParameters: params}, nil
}
